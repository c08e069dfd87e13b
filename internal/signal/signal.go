// Package signal implements the per-kind signal detectors (C1): stateful,
// per-file-key transforms from raw editor events into typed, scored
// Signals within a rolling time window.
package signal

import "github.com/aura-labs/struggle/pkg/models"

// Detector is the uniform contract every signal detector implements.
// Observe is non-blocking and never returns an error: detectors log and
// clamp rather than propagate failures, per the aggregator's failure
// semantics.
type Detector interface {
	// Type identifies which SignalType this detector produces.
	Type() models.SignalType

	// Observe records one editor event. Implementations ignore events of a
	// kind they do not handle.
	Observe(event models.SignalEvent)

	// Evaluate computes the current Signal for a file_key as of now, or
	// reports ok=false if there is no basis for a signal yet (no events
	// observed in the window).
	Evaluate(fileKey string, nowMs int64) (sig models.Signal, ok bool)
}

// smoothstep is the Hermite interpolation used to turn a raw ratio into a
// [0,1] score with a gentle S-curve instead of a hard clamp, so scores
// near the threshold don't jump discontinuously.
func smoothstep(x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	return x * x * (3 - 2*x)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
