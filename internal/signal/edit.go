package signal

import (
	"github.com/aura-labs/struggle/pkg/models"
)

// EditPatternConfig parameterises the edit-pattern detector.
type EditPatternConfig struct {
	WindowMs                  int64
	EditFrequencyThresholdMin float64
	RetryAttemptThreshold     int
	LevenshteinSimilarityMax  float64
	MaxLineDistanceForRetry   int
	MaxComparisonsPerEdit     int
	MaxEventsPerFile          int
}

// EditPatternDetector maintains a time-ordered edit buffer per file and
// scores editFrequencyPerMin and retryCount.
type EditPatternDetector struct {
	cfg     EditPatternConfig
	buffers *perFileBuffers
}

func NewEditPatternDetector(cfg EditPatternConfig) *EditPatternDetector {
	return &EditPatternDetector{cfg: cfg, buffers: newPerFileBuffers(cfg.MaxEventsPerFile)}
}

func (d *EditPatternDetector) Type() models.SignalType { return models.SignalEditPattern }

func (d *EditPatternDetector) Observe(event models.SignalEvent) {
	if event.Kind != models.KindEdit {
		return
	}
	d.buffers.get(event.FileKey).push(event)
}

// snippetOf extracts the edit's text payload, if present, for retry
// similarity comparison.
func snippetOf(e models.SignalEvent) (string, bool) {
	s, ok := e.Payload.(string)
	if ok {
		return s, true
	}
	if m, ok := e.Payload.(map[string]any); ok {
		if s, ok := m["snippet"].(string); ok {
			return s, true
		}
	}
	return "", false
}

func (d *EditPatternDetector) Evaluate(fileKey string, nowMs int64) (models.Signal, bool) {
	events := d.buffers.get(fileKey).windowed(nowMs, d.cfg.WindowMs)
	if len(events) == 0 {
		return models.Signal{}, false
	}

	windowMinutes := float64(d.cfg.WindowMs) / 60000.0
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	editFrequencyPerMin := float64(len(events)) / windowMinutes

	retryCount := 0
	maxSimilarity := 0.0 // tracked as 1 - changeRatio, i.e. "how similar", for metadata
	for i := len(events) - 1; i >= 0; i-- {
		cur := events[i]
		curSnippet, ok := snippetOf(cur)
		if !ok {
			continue
		}

		comparisons := 0
		for j := i - 1; j >= 0 && comparisons < d.cfg.MaxComparisonsPerEdit; j-- {
			prior := events[j]
			if abs(cur.Line-prior.Line) > d.cfg.MaxLineDistanceForRetry {
				continue
			}
			priorSnippet, ok := snippetOf(prior)
			if !ok {
				continue
			}
			comparisons++

			ratio := changeRatio(curSnippet, priorSnippet)
			similarity := 1 - ratio
			if similarity > maxSimilarity {
				maxSimilarity = similarity
			}
			if ratio <= d.cfg.LevenshteinSimilarityMax {
				retryCount++
			}
		}
	}

	freqRatio := editFrequencyPerMin / max64(d.cfg.EditFrequencyThresholdMin, 0.0001)
	retryRatio := float64(retryCount) / float64(max(d.cfg.RetryAttemptThreshold, 1))

	score := smoothstep(max64(freqRatio, retryRatio))

	sig := models.Signal{
		Type:     models.SignalEditPattern,
		Score:    clamp01(score),
		WindowMs: d.cfg.WindowMs,
		Metadata: map[string]any{
			"editFrequencyPerMin": editFrequencyPerMin,
			"retryCount":          retryCount,
			"similarityMax":       maxSimilarity,
		},
	}
	return sig, true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
