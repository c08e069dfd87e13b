// Package aggregator implements the signal aggregator (C2): it fuses the
// per-kind Signals the detector registry emits into one weighted
// AggregatedDecision per file_key, and enforces the trigger cooldown.
package aggregator

import (
	"sync"

	"github.com/aura-labs/struggle/pkg/models"
)

// tieBreakEpsilon is the score-equality tolerance used when resolving
// primary_signal ties: scores within this distance of the current maximum
// are considered equal for tie-break purposes.
const tieBreakEpsilon = 1e-6

// Weights maps a SignalType to its configurable fusion weight. Missing
// entries are treated as zero, which is how a disabled detector (e.g. the
// semantic detector with no embedder wired) contributes nothing without
// needing special-cased handling here.
type Weights map[models.SignalType]float64

// DefaultWeights mirrors the external-interface defaults.
func DefaultWeights() Weights {
	return Weights{
		models.SignalUndoRedo:    0.25,
		models.SignalTimePattern: 0.20,
		models.SignalTerminal:    0.20,
		models.SignalDebug:       0.15,
		models.SignalSemantic:    0.10,
		models.SignalEditPattern: 0.10,
	}
}

// Config parameterises the aggregator.
type Config struct {
	Weights          Weights
	TriggerThreshold float64
	CooldownMs       int64
}

func (c Config) weightFor(t models.SignalType) float64 {
	if c.Weights == nil {
		return 0
	}
	return c.Weights[t]
}

// fileState holds the aggregator's per-file_key mutable state: the latest
// signal by type (insertion order preserved via insertionOrder), and the
// cooldown bookkeeping.
type fileState struct {
	mu                  sync.Mutex
	latestByType        map[models.SignalType]models.Signal
	insertionOrder      []models.SignalType
	lastTriggerTsMs     int64
	serverCooldownUntil int64
	clientSnoozeUntil   int64
}

// Aggregator is the single entry point for fusing detector output into
// trigger decisions. One Aggregator instance is shared process-wide; it
// internally shards state per file_key so writers to distinct files never
// contend with each other.
type Aggregator struct {
	cfg    Config
	mu     sync.Mutex
	states map[string]*fileState
}

func New(cfg Config) *Aggregator {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.TriggerThreshold <= 0 {
		cfg.TriggerThreshold = 0.6
	}
	return &Aggregator{cfg: cfg, states: make(map[string]*fileState)}
}

func (a *Aggregator) stateFor(fileKey string) *fileState {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.states[fileKey]
	if !ok {
		s = &fileState{latestByType: make(map[models.SignalType]models.Signal)}
		a.states[fileKey] = s
	}
	return s
}

// Update upserts the latest Signal observed for a file_key, by type. Each
// file_key has a single logical writer (its owning detector evaluation
// loop), so the per-fileState mutex here guards against concurrent
// Evaluate/Reset calls rather than concurrent Updates.
func (a *Aggregator) Update(fileKey string, sig models.Signal) {
	s := a.stateFor(fileKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.latestByType[sig.Type]; !seen {
		s.insertionOrder = append(s.insertionOrder, sig.Type)
	}
	sig.Clamp01()
	s.latestByType[sig.Type] = sig
}

// SetClientSnooze records the client-persisted `aura.snoozed_until_ms`
// value for fileKey. The Open Question decision is to apply max() of this
// and the server-side cooldown, so neither side can be bypassed.
func (a *Aggregator) SetClientSnooze(fileKey string, untilMs int64) {
	s := a.stateFor(fileKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientSnoozeUntil = untilMs
}

// Evaluate recomputes the AggregatedDecision for fileKey as of nowMs.
func (a *Aggregator) Evaluate(fileKey string, nowMs int64) models.AggregatedDecision {
	s := a.stateFor(fileKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	signals := make([]models.Signal, 0, len(s.insertionOrder))
	for _, t := range s.insertionOrder {
		signals = append(signals, s.latestByType[t])
	}

	combined := 0.0
	weighted := make(map[models.SignalType]float64, len(signals))
	for _, sig := range signals {
		w := a.cfg.weightFor(sig.Type) * sig.Score
		weighted[sig.Type] = w
		combined += w
	}
	combined = clamp01(combined)

	primary := primarySignal(s.insertionOrder, weighted)

	cooldownUntil := s.serverCooldownUntil
	if s.clientSnoozeUntil > cooldownUntil {
		cooldownUntil = s.clientSnoozeUntil
	}

	shouldTrigger := combined >= a.cfg.TriggerThreshold &&
		(nowMs-s.lastTriggerTsMs) >= a.cfg.CooldownMs &&
		nowMs >= cooldownUntil

	decision := models.AggregatedDecision{
		Signals:       signals,
		CombinedScore: combined,
		PrimarySignal: primary,
		WindowStartMs: nowMs,
		WindowEndMs:   nowMs,
		ShouldTrigger: shouldTrigger,
	}
	if widest := widestWindowMs(signals); widest > 0 {
		decision.WindowStartMs = nowMs - widest
	}
	return decision
}

// Accept records a successful trigger: it stamps lastTriggerTsMs and
// advances the server-side cooldown, then clears per-type state so the
// next window starts fresh (the spec's reset(file_key) operation).
func (a *Aggregator) Accept(fileKey string, nowMs int64) {
	s := a.stateFor(fileKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTriggerTsMs = nowMs
	s.serverCooldownUntil = nowMs + a.cfg.CooldownMs
	s.latestByType = make(map[models.SignalType]models.Signal)
	s.insertionOrder = nil
}

// Reset clears a file_key's accumulated signal state without stamping a
// trigger, e.g. when the client explicitly dismisses a suggestion.
func (a *Aggregator) Reset(fileKey string) {
	s := a.stateFor(fileKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestByType = make(map[models.SignalType]models.Signal)
	s.insertionOrder = nil
}

// primarySignal picks the argmax of weighted score, breaking ties by
// stable insertion order with error-bearing signals (terminal, debug)
// outranking pure edit/time patterns when scores are equal within
// tieBreakEpsilon.
func primarySignal(order []models.SignalType, weighted map[models.SignalType]float64) models.SignalType {
	if len(order) == 0 {
		return ""
	}

	best := order[0]
	bestW := weighted[best]
	for _, t := range order[1:] {
		w := weighted[t]
		switch {
		case w > bestW+tieBreakEpsilon:
			best, bestW = t, w
		case w >= bestW-tieBreakEpsilon && w <= bestW+tieBreakEpsilon:
			if t.IsErrorBearing() && !best.IsErrorBearing() {
				best, bestW = t, w
			}
		}
	}
	return best
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

// widestWindowMs returns the largest per-signal window duration, used so
// the decision's window_start reflects the broadest contributing window.
func widestWindowMs(signals []models.Signal) int64 {
	var widest int64
	for _, s := range signals {
		if s.WindowMs > widest {
			widest = s.WindowMs
		}
	}
	return widest
}
