package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/pkg/models"
)

func defaultTimePatternConfig() TimePatternConfig {
	return TimePatternConfig{WindowMs: 120_000, HesitationThresholdMs: 45_000, MaxEventsPerFile: 50}
}

// TestTimePatternDetector_HesitationWithPriorErrors mirrors the spec's
// ">45s gap with prior errors present" example.
func TestTimePatternDetector_HesitationWithPriorErrors(t *testing.T) {
	d := NewTimePatternDetector(defaultTimePatternConfig())
	const fileKey = "file:/repo/main.go"

	d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindDiagnosticError, TsMs: 1000})
	d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindEdit, TsMs: 2000})

	sig, ok := d.Evaluate(fileKey, 2000+46_000)
	require.True(t, ok)
	assert.Greater(t, sig.Score, 0.0)
}

func TestTimePatternDetector_NoHesitationWithoutPriorErrors(t *testing.T) {
	d := NewTimePatternDetector(defaultTimePatternConfig())
	const fileKey = "file:/repo/main.go"

	d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindEdit, TsMs: 2000})

	sig, ok := d.Evaluate(fileKey, 2000+46_000)
	require.True(t, ok)
	assert.Equal(t, 0.0, sig.Score)
}

func TestTimePatternDetector_ShortGapNoSignal(t *testing.T) {
	d := NewTimePatternDetector(defaultTimePatternConfig())
	const fileKey = "file:/repo/main.go"

	d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindDiagnosticError, TsMs: 1000})
	d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindEdit, TsMs: 2000})

	sig, ok := d.Evaluate(fileKey, 2000+5_000)
	require.True(t, ok)
	assert.Equal(t, 0.0, sig.Score)
}
