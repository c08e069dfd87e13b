package signal

import (
	"sync"

	"github.com/aura-labs/struggle/pkg/models"
)

// Config bundles the per-detector configuration used to build a Registry.
// SemanticEnabled/Embedder are optional; when Embedder is nil the semantic
// detector is never registered, so it can never contribute a Signal or
// appear in aggregator tie-breaks.
type Config struct {
	EditPattern EditPatternConfig
	UndoRedo    UndoRedoConfig
	TimePattern TimePatternConfig
	Terminal    TerminalConfig
	Debug       DebugConfig
	Semantic    SemanticConfig

	SemanticEnabled bool
	Embedder        Embedder
}

// Registry owns one Detector per SignalType and fans observed events out to
// whichever detectors accept that event kind. It is the sole entry point
// the aggregator (C2) uses to turn raw editor events into scored Signals.
type Registry struct {
	mu        sync.RWMutex
	detectors []Detector
	byType    map[models.SignalType]Detector
}

// NewRegistry builds a Registry with the five always-on detectors and,
// when cfg.SemanticEnabled and cfg.Embedder are both set, the optional
// semantic drift detector.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{byType: make(map[models.SignalType]Detector)}

	r.register(NewEditPatternDetector(cfg.EditPattern))
	r.register(NewUndoRedoDetector(cfg.UndoRedo))
	r.register(NewTimePatternDetector(cfg.TimePattern))
	r.register(NewTerminalDetector(cfg.Terminal))
	r.register(NewDebugDetector(cfg.Debug))

	if cfg.SemanticEnabled && cfg.Embedder != nil {
		r.register(NewSemanticDetector(cfg.Semantic, cfg.Embedder))
	}

	return r
}

func (r *Registry) register(d Detector) {
	r.detectors = append(r.detectors, d)
	r.byType[d.Type()] = d
}

// Observe fans one editor event out to every registered detector. Each
// detector ignores event kinds it doesn't handle, so this is safe to call
// unconditionally for every inbound event.
func (r *Registry) Observe(event models.SignalEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.detectors {
		d.Observe(event)
	}
}

// EvaluateAll runs every registered detector for fileKey and returns the
// Signals that had a basis to report (ok==true from Evaluate), in
// registration order: edit_pattern, undo_redo, time_pattern, terminal,
// debug, then semantic if enabled. Registration order is also the
// insertion order the aggregator's primary_signal tie-break relies on.
func (r *Registry) EvaluateAll(fileKey string, nowMs int64) []models.Signal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Signal, 0, len(r.detectors))
	for _, d := range r.detectors {
		sig, ok := d.Evaluate(fileKey, nowMs)
		if !ok {
			continue
		}
		sig.Clamp01()
		out = append(out, sig)
	}
	return out
}

// Types returns the SignalTypes this registry has detectors for, in
// registration order.
func (r *Registry) Types() []models.SignalType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SignalType, 0, len(r.detectors))
	for _, d := range r.detectors {
		out = append(out, d.Type())
	}
	return out
}
