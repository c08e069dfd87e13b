package signal

import "github.com/aura-labs/struggle/pkg/models"

// DebugConfig parameterises the debug detector.
type DebugConfig struct {
	WindowMs         int64
	MaxEventsPerFile int
	// BreakpointChangeThreshold is the count of breakpoint add/remove plus
	// step-after-error events within the window that saturates the score.
	BreakpointChangeThreshold int
}

// DebugDetector counts breakpoint add/remove within window and step events
// after errors.
type DebugDetector struct {
	cfg     DebugConfig
	buffers *perFileBuffers
}

func NewDebugDetector(cfg DebugConfig) *DebugDetector {
	if cfg.BreakpointChangeThreshold <= 0 {
		cfg.BreakpointChangeThreshold = 5
	}
	return &DebugDetector{cfg: cfg, buffers: newPerFileBuffers(cfg.MaxEventsPerFile)}
}

func (d *DebugDetector) Type() models.SignalType { return models.SignalDebug }

func (d *DebugDetector) Observe(event models.SignalEvent) {
	if event.Kind != models.KindDebugEvent {
		return
	}
	d.buffers.get(event.FileKey).push(event)
}

func (d *DebugDetector) Evaluate(fileKey string, nowMs int64) (models.Signal, bool) {
	events := d.buffers.get(fileKey).windowed(nowMs, d.cfg.WindowMs)
	if len(events) == 0 {
		return models.Signal{}, false
	}

	ratio := float64(len(events)) / float64(d.cfg.BreakpointChangeThreshold)
	score := smoothstep(ratio)

	sig := models.Signal{
		Type:     models.SignalDebug,
		Score:    clamp01(score),
		WindowMs: d.cfg.WindowMs,
		Metadata: map[string]any{"breakpointChanges": len(events)},
	}
	return sig, true
}
