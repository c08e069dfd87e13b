// Package trigger implements the trigger bridge (C3): it assembles the
// submission payload from an aggregated decision plus client-supplied
// context, coalesces concurrent in-flight submissions for the same
// file_key within one epoch window, and hands the result off to the
// workflow runtime (C4).
package trigger

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/aura-labs/struggle/internal/observability"
	"github.com/aura-labs/struggle/pkg/models"
)

// Submission is the assembled payload handed to the workflow runtime.
type Submission struct {
	ThreadID string
	Decision models.AggregatedDecision
	Context  models.StruggleContext
	Request  Request
}

// Request mirrors the trigger submission's accepted fields.
type Request struct {
	Source                 string             `json:"source"`
	StruggleReason          string             `json:"struggle_reason,omitempty"`
	FilePath                string             `json:"file_path,omitempty"`
	LanguageID              string             `json:"language_id,omitempty"`
	CodeSnippet             string             `json:"code_snippet,omitempty"`
	UndoRedoPattern         string             `json:"undo_redo_pattern,omitempty"`
	PrimarySignal           models.SignalType  `json:"primary_signal,omitempty"`
	ErrorLogs               []string           `json:"error_logs"`
	History                 []string           `json:"history"`
	TerminalErrors          []string           `json:"terminal_errors,omitempty"`
	Signals                 []models.Signal    `json:"signals,omitempty"`
	EditFrequency           float64            `json:"edit_frequency"`
	ClientTimestampMs       int64              `json:"client_timestamp"`
	RetryCount              int                `json:"retry_count,omitempty"`
	CombinedScore           float64            `json:"combined_score,omitempty"`
	HesitationMs            int64              `json:"hesitation_ms,omitempty"`
	DebugBreakpointChanges  int                `json:"debug_breakpoint_changes,omitempty"`
	SendCodeSnippet         bool               `json:"-"`
	SendFilePath            bool               `json:"-"`
}

// Runner is the subset of the workflow runtime the bridge depends on.
// Implemented by *workflow.Runtime; kept as an interface here so the
// bridge can be tested without a real checkpoint store.
type Runner interface {
	Start(ctx context.Context, threadID string, inputs map[string]any) (models.WorkflowState, error)
}

// ThreadIDFor returns the coalescing thread identifier for a file_key:
// `{file_key}:{epoch_window}`, where epoch_window is nowMs integer-divided
// by epochWindowMs. Multiple triggers for the same file within one epoch
// window share a thread_id and therefore coalesce onto one run via the
// bridge's singleflight group.
func ThreadIDFor(fileKey string, nowMs, epochWindowMs int64) string {
	if epochWindowMs <= 0 {
		epochWindowMs = 1
	}
	epoch := nowMs / epochWindowMs
	return fmt.Sprintf("%s:%d", fileKey, epoch)
}

// Bridge owns the in-flight dedup group and the workflow runner.
type Bridge struct {
	runner        Runner
	epochWindowMs int64
	inflight      singleflight.Group
}

func NewBridge(runner Runner, epochWindowMs int64) *Bridge {
	if epochWindowMs <= 0 {
		epochWindowMs = 30_000
	}
	return &Bridge{runner: runner, epochWindowMs: epochWindowMs}
}

// Submit assembles the payload from decision+context+req, computes the
// coalescing thread_id, and forwards exactly one in-flight run per
// thread_id to the workflow runtime. Concurrent Submit calls that land in
// the same epoch window for the same file_key share the single run's
// result.
func (b *Bridge) Submit(ctx context.Context, fileKey string, nowMs int64, decision models.AggregatedDecision, sctx models.StruggleContext, req Request) (models.WorkflowState, error) {
	observability.RecordTrigger(ctx)
	threadID := ThreadIDFor(fileKey, nowMs, b.epochWindowMs)

	if !req.SendCodeSnippet {
		sctx.Snippet = ""
	}
	if !req.SendFilePath {
		sctx.FilePath = ""
	}

	inputs := map[string]any{
		"edit_frequency":    req.EditFrequency,
		"error_logs":        req.ErrorLogs,
		"history":           req.History,
		"source":            req.Source,
		"struggle_reason":   req.StruggleReason,
		"retry_count":       req.RetryCount,
		"combined_score":    decision.CombinedScore,
		"primary_signal":    decision.PrimarySignal,
		"signals":           decision.Signals,
		"undo_redo_pattern": req.UndoRedoPattern,
		"hesitation_ms":     req.HesitationMs,
		"terminal_errors":   req.TerminalErrors,
		"struggle_context":  sctx,
	}

	v, err, _ := b.inflight.Do(threadID, func() (any, error) {
		return b.runner.Start(ctx, threadID, inputs)
	})
	if err != nil {
		return models.WorkflowState{}, err
	}
	return v.(models.WorkflowState), nil
}
