// Package models holds the data types shared across the struggle-detection
// aggregator: signals, decisions, workflow and checkpoint state, and cache
// entries.
package models

import "time"

// SignalKind identifies the editor event kind a SignalEvent was produced
// from.
type SignalKind string

const (
	KindEdit            SignalKind = "edit"
	KindUndo            SignalKind = "undo"
	KindRedo            SignalKind = "redo"
	KindDiagnosticError SignalKind = "diagnostic_error"
	KindTerminalError   SignalKind = "terminal_error"
	KindDebugEvent      SignalKind = "debug_event"
	KindHesitation      SignalKind = "hesitation"
)

// SignalEvent is an immutable record produced by the editor side and
// consumed by a single detector. Detectors own the ring buffer it lives in.
type SignalEvent struct {
	Payload any        `json:"payload,omitempty"`
	FileKey string     `json:"file_key"`
	Kind    SignalKind `json:"kind"`
	TsMs    int64      `json:"ts_ms"`
	Line    int        `json:"line,omitempty"`
}

// SignalType names the kind of scored Signal a detector emits. These are
// the identifiers used for aggregation weights and primary_signal.
type SignalType string

const (
	SignalEditPattern SignalType = "edit_pattern"
	SignalUndoRedo    SignalType = "undo_redo"
	SignalTimePattern SignalType = "time_pattern"
	SignalTerminal    SignalType = "terminal"
	SignalDebug       SignalType = "debug"
	SignalSemantic    SignalType = "semantic"
)

// IsErrorBearing reports whether this signal type counts as "error-bearing"
// for primary_signal tie-break purposes (terminal and diagnostic-derived
// signals outrank pure edit patterns at equal score).
func (t SignalType) IsErrorBearing() bool {
	return t == SignalTerminal || t == SignalDebug
}

// Signal is the scored summary a detector emits for one kind within a
// window.
type Signal struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Type     SignalType     `json:"type"`
	Score    float64        `json:"score"`
	WindowMs int64          `json:"window_ms"`
}

// Clamp01 clamps the signal's score into [0,1]. Detectors call this before
// returning a Signal so the aggregator never has to distrust inputs.
func (s *Signal) Clamp01() {
	if s.Score < 0 {
		s.Score = 0
	}
	if s.Score > 1 {
		s.Score = 1
	}
}

// AggregatedDecision is the fused output of every active signal for a
// file_key at one evaluation instant.
type AggregatedDecision struct {
	PrimarySignal  SignalType `json:"primary_signal"`
	Signals        []Signal   `json:"signals"`
	CombinedScore  float64    `json:"combined_score"`
	WindowStartMs  int64      `json:"window_start"`
	WindowEndMs    int64      `json:"window_end"`
	ShouldTrigger  bool       `json:"should_trigger"`
}

// StruggleContext is the code-context bundle attached to a trigger
// submission, subject to the client's privacy flags.
type StruggleContext struct {
	FileKey         string   `json:"file_key"`
	FilePath        string   `json:"file_path,omitempty"`
	LanguageID      string   `json:"language_id,omitempty"`
	Snippet         string   `json:"snippet,omitempty"`
	DiagnosticsErrs []string `json:"diagnostics_errors,omitempty"`
	Line            int      `json:"line,omitempty"`
}

// ThreadStatus is the lifecycle state of a WorkflowState.
type ThreadStatus string

const (
	ThreadPending   ThreadStatus = "pending"
	ThreadRunning   ThreadStatus = "running"
	ThreadCompleted ThreadStatus = "completed"
	ThreadFailed    ThreadStatus = "failed"
	ThreadCancelled ThreadStatus = "cancelled"
)

// WorkflowIntermediate carries the per-channel state the struggle and audit
// graphs accumulate across supersteps.
type WorkflowIntermediate struct {
	RagContext          string   `json:"rag_context,omitempty"`
	LessonRecommendation string  `json:"lesson_recommendation,omitempty"`
	Violations          []string `json:"violations,omitempty"`
}

// WorkflowState is the per-thread record returned by workflow query/get.
type WorkflowState struct {
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	ThreadID     string                `json:"thread_id"`
	Status       ThreadStatus          `json:"status"`
	Error        string                `json:"error,omitempty"`
	Inputs       map[string]any        `json:"inputs,omitempty"`
	Outputs      map[string]any        `json:"outputs,omitempty"`
	Intermediate WorkflowIntermediate  `json:"intermediate"`
	IsStruggling bool                  `json:"is_struggling"`
}

// KnowledgeChunk is one retrievable unit in the vector index.
type KnowledgeChunk struct {
	Metadata  ChunkMetadata `json:"metadata"`
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Embedding []float32     `json:"-"`
}

// ChunkMetadata describes a KnowledgeChunk for citation purposes.
type ChunkMetadata struct {
	Language   string   `json:"language,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Path       string   `json:"path"`
	Keywords   []string `json:"keywords,omitempty"`
	ChunkIx    int      `json:"chunk_ix"`
}

// Citation is a trimmed-down reference to a retrieved chunk, returned
// alongside retrieval context for transparency.
type Citation struct {
	Path       string  `json:"path"`
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
	ChunkIx    int     `json:"chunk_ix"`
}
