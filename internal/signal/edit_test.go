package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/pkg/models"
)

func defaultEditConfig() EditPatternConfig {
	return EditPatternConfig{
		WindowMs:                  120_000,
		EditFrequencyThresholdMin: 10,
		RetryAttemptThreshold:     3,
		LevenshteinSimilarityMax:  0.2,
		MaxLineDistanceForRetry:   5,
		MaxComparisonsPerEdit:     10,
		MaxEventsPerFile:          200,
	}
}

// TestEditPatternDetector_RetryDetection exercises the same-snippet-edited
// repeatedly-at-one-line scenario: three near-identical edits at the same
// line should be counted as retries and saturate the score.
func TestEditPatternDetector_RetryDetection(t *testing.T) {
	d := NewEditPatternDetector(defaultEditConfig())
	const fileKey = "file:/repo/main.go"

	snippet := "fmt.Println(x)"
	for i, ts := range []int64{1000, 2000, 3000} {
		d.Observe(models.SignalEvent{
			FileKey: fileKey,
			Kind:    models.KindEdit,
			TsMs:    ts,
			Line:    42,
			Payload: snippet,
		})
		_ = i
	}

	sig, ok := d.Evaluate(fileKey, 3000)
	require.True(t, ok)
	assert.Equal(t, models.SignalEditPattern, sig.Type)
	assert.Equal(t, 3, sig.Metadata["retryCount"])
	assert.Equal(t, 1.0, sig.Score)
}

func TestEditPatternDetector_NoEventsNoSignal(t *testing.T) {
	d := NewEditPatternDetector(defaultEditConfig())
	_, ok := d.Evaluate("file:/repo/unseen.go", 1000)
	assert.False(t, ok)
}

func TestEditPatternDetector_DistantEditsNotRetries(t *testing.T) {
	d := NewEditPatternDetector(defaultEditConfig())
	const fileKey = "file:/repo/main.go"

	d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindEdit, TsMs: 1000, Line: 1, Payload: "a := 1"})
	d.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindEdit, TsMs: 2000, Line: 500, Payload: "a := 1"})

	sig, ok := d.Evaluate(fileKey, 2000)
	require.True(t, ok)
	assert.Equal(t, 0, sig.Metadata["retryCount"])
}

func TestEditPatternDetector_IgnoresOtherKinds(t *testing.T) {
	d := NewEditPatternDetector(defaultEditConfig())
	d.Observe(models.SignalEvent{FileKey: "f", Kind: models.KindUndo, TsMs: 1000})
	_, ok := d.Evaluate("f", 1000)
	assert.False(t, ok)
}
