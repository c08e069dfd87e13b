package signal

import "github.com/aura-labs/struggle/pkg/models"

// TimePatternConfig parameterises the time-pattern (hesitation) detector.
type TimePatternConfig struct {
	WindowMs              int64
	HesitationThresholdMs int64
	MaxEventsPerFile      int
}

// TimePatternDetector tracks inter-edit gaps and flags hesitation above a
// threshold, only when prior errors are present in the same window (the
// spec's "> 45s with prior errors present" example).
type TimePatternDetector struct {
	cfg         TimePatternConfig
	buffers     *perFileBuffers
	errorEvents *perFileBuffers
}

func NewTimePatternDetector(cfg TimePatternConfig) *TimePatternDetector {
	return &TimePatternDetector{
		cfg:         cfg,
		buffers:     newPerFileBuffers(cfg.MaxEventsPerFile),
		errorEvents: newPerFileBuffers(cfg.MaxEventsPerFile),
	}
}

func (d *TimePatternDetector) Type() models.SignalType { return models.SignalTimePattern }

func (d *TimePatternDetector) Observe(event models.SignalEvent) {
	switch event.Kind {
	case models.KindEdit, models.KindUndo, models.KindRedo:
		d.buffers.get(event.FileKey).push(event)
	case models.KindDiagnosticError, models.KindTerminalError:
		d.errorEvents.get(event.FileKey).push(event)
	}
}

func (d *TimePatternDetector) Evaluate(fileKey string, nowMs int64) (models.Signal, bool) {
	events := d.buffers.get(fileKey).windowed(nowMs, d.cfg.WindowMs)
	errs := d.errorEvents.get(fileKey).windowed(nowMs, d.cfg.WindowMs)
	if len(events) == 0 {
		return models.Signal{}, false
	}

	var maxGap int64
	for i := 1; i < len(events); i++ {
		gap := events[i].TsMs - events[i-1].TsMs
		if gap > maxGap {
			maxGap = gap
		}
	}
	// Also consider the gap since the most recent event up to now.
	if gap := nowMs - events[len(events)-1].TsMs; gap > maxGap {
		maxGap = gap
	}

	if len(errs) == 0 || maxGap < d.cfg.HesitationThresholdMs {
		sig := models.Signal{
			Type:     models.SignalTimePattern,
			Score:    0,
			WindowMs: d.cfg.WindowMs,
			Metadata: map[string]any{"hesitationMs": maxGap},
		}
		return sig, true
	}

	ratio := float64(maxGap) / float64(d.cfg.HesitationThresholdMs)
	score := smoothstep(ratio - 1)

	sig := models.Signal{
		Type:     models.SignalTimePattern,
		Score:    clamp01(score),
		WindowMs: d.cfg.WindowMs,
		Metadata: map[string]any{"hesitationMs": maxGap},
	}
	return sig, true
}
