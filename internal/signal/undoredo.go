package signal

import "github.com/aura-labs/struggle/pkg/models"

// UndoRedoConfig parameterises the undo/redo detector.
type UndoRedoConfig struct {
	WindowMs         int64
	MaxEventsPerFile int
}

// UndoRedoDetector classifies a file's recent undo/redo sequence as thrash
// (alternating), revert (sustained undo), or explore (mostly redo after
// undo), and scores proportional to event density within the window.
type UndoRedoDetector struct {
	cfg     UndoRedoConfig
	buffers *perFileBuffers
}

func NewUndoRedoDetector(cfg UndoRedoConfig) *UndoRedoDetector {
	return &UndoRedoDetector{cfg: cfg, buffers: newPerFileBuffers(cfg.MaxEventsPerFile)}
}

func (d *UndoRedoDetector) Type() models.SignalType { return models.SignalUndoRedo }

func (d *UndoRedoDetector) Observe(event models.SignalEvent) {
	if event.Kind != models.KindUndo && event.Kind != models.KindRedo {
		return
	}
	d.buffers.get(event.FileKey).push(event)
}

func (d *UndoRedoDetector) Evaluate(fileKey string, nowMs int64) (models.Signal, bool) {
	events := d.buffers.get(fileKey).windowed(nowMs, d.cfg.WindowMs)
	if len(events) == 0 {
		return models.Signal{}, false
	}

	undoCount, redoCount, alternations := 0, 0, 0
	for i, e := range events {
		if e.Kind == models.KindUndo {
			undoCount++
		} else {
			redoCount++
		}
		if i > 0 && events[i-1].Kind != e.Kind {
			alternations++
		}
	}

	total := undoCount + redoCount
	alternationRatio := float64(alternations) / float64(max(total-1, 1))

	pattern := "explore"
	switch {
	case alternationRatio >= 0.5:
		pattern = "thrash"
	case undoCount > redoCount*2:
		pattern = "revert"
	}

	windowMinutes := float64(d.cfg.WindowMs) / 60000.0
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	density := float64(total) / windowMinutes
	// Density of ~12 events/min within the window saturates the score;
	// this mirrors the edit-pattern detector's frequency-ratio scoring.
	score := smoothstep(density / 12.0)

	sig := models.Signal{
		Type:     models.SignalUndoRedo,
		Score:    clamp01(score),
		WindowMs: d.cfg.WindowMs,
		Metadata: map[string]any{
			"pattern": pattern,
			"ratio":   alternationRatio,
		},
	}
	return sig, true
}
