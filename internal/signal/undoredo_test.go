package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/pkg/models"
)

func TestUndoRedoDetector_ThrashPattern(t *testing.T) {
	d := NewUndoRedoDetector(UndoRedoConfig{WindowMs: 60_000, MaxEventsPerFile: 50})
	const fileKey = "file:/repo/main.go"

	kinds := []models.SignalKind{models.KindUndo, models.KindRedo, models.KindUndo, models.KindRedo}
	for i, k := range kinds {
		d.Observe(models.SignalEvent{FileKey: fileKey, Kind: k, TsMs: int64(1000 * (i + 1))})
	}

	sig, ok := d.Evaluate(fileKey, 4000)
	require.True(t, ok)
	assert.Equal(t, "thrash", sig.Metadata["pattern"])
}

func TestUndoRedoDetector_RevertPattern(t *testing.T) {
	d := NewUndoRedoDetector(UndoRedoConfig{WindowMs: 60_000, MaxEventsPerFile: 50})
	const fileKey = "file:/repo/main.go"

	for i := 0; i < 4; i++ {
		d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindUndo, TsMs: int64(1000 * (i + 1))})
	}

	sig, ok := d.Evaluate(fileKey, 4000)
	require.True(t, ok)
	assert.Equal(t, "revert", sig.Metadata["pattern"])
}

func TestUndoRedoDetector_NoEvents(t *testing.T) {
	d := NewUndoRedoDetector(UndoRedoConfig{WindowMs: 60_000, MaxEventsPerFile: 50})
	_, ok := d.Evaluate("file:/repo/unseen.go", 1000)
	assert.False(t, ok)
}
