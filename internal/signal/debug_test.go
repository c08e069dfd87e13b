package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/pkg/models"
)

func TestDebugDetector_SaturatesAtThreshold(t *testing.T) {
	d := NewDebugDetector(DebugConfig{WindowMs: 60_000, MaxEventsPerFile: 50, BreakpointChangeThreshold: 3})
	const fileKey = "file:/repo/main.go"

	for i := 0; i < 3; i++ {
		d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindDebugEvent, TsMs: int64(1000 * (i + 1))})
	}

	sig, ok := d.Evaluate(fileKey, 3000)
	require.True(t, ok)
	assert.Equal(t, 1.0, sig.Score)
	assert.Equal(t, 3, sig.Metadata["breakpointChanges"])
}

func TestDebugDetector_NoEventsNoSignal(t *testing.T) {
	d := NewDebugDetector(DebugConfig{WindowMs: 60_000, MaxEventsPerFile: 50})
	_, ok := d.Evaluate("file:/repo/unseen.go", 1000)
	assert.False(t, ok)
}
