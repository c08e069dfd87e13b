package graphs

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aura-labs/struggle/internal/privacy"
	"github.com/aura-labs/struggle/internal/workflow"
	"github.com/aura-labs/struggle/pkg/models"
)

// NewStruggleGraph builds the struggle graph: detect, maybe_retrieve,
// generate, finalize. Inputs are the keys the trigger bridge populates
// (edit_frequency, error_logs, history, source, struggle_reason,
// retry_count, combined_score, primary_signal, signals,
// undo_redo_pattern, hesitation_ms, terminal_errors, struggle_context).
func NewStruggleGraph(deps Deps) workflow.Graph {
	return workflow.Graph{
		Name: "struggle",
		Nodes: []workflow.Node{
			{
				Name:   "detect",
				Reads:  []string{"edit_frequency", "error_logs", "combined_score"},
				Writes: []string{"is_struggling"},
				Fn:     detectNode(deps),
			},
			{
				Name:   "maybe_retrieve",
				Reads:  []string{"is_struggling", "error_logs", "terminal_errors", "struggle_context"},
				Writes: []string{"rag_context", "citations"},
				Fn:     maybeRetrieveNode(deps),
			},
			{
				Name:   "generate",
				Reads:  []string{"is_struggling", "rag_context", "history", "struggle_context"},
				Writes: []string{"lesson_recommendation"},
				Fn:     generateNode(deps),
			},
			{
				Name:   "finalize",
				Reads:  []string{"lesson_recommendation"},
				Writes: []string{"lesson_recommendation"},
				Fn:     finalizeNode(),
			},
		},
	}
}

// detect sets is_struggling from the aggregator fields already present in
// inputs plus the coarse sanity checks the distilled spec calls for:
// edit_frequency at or above threshold, at least one error log line, or
// combined_score at or above the trigger threshold.
func detectNode(deps Deps) workflow.NodeFunc {
	return func(_ context.Context, state workflow.State) (workflow.State, error) {
		editFreq := floatOf(state["edit_frequency"])
		errorLogs := stringSlice(state["error_logs"])
		combined := floatOf(state["combined_score"])

		struggling := editFreq >= deps.EditFreqThresh ||
			len(errorLogs) >= 1 ||
			combined >= deps.TriggerThreshold

		return workflow.State{"is_struggling": struggling}, nil
	}
}

// maybeRetrieve calls knowledge retrieval only when detect found the
// session struggling, with a query built from error messages plus the
// struggle context's language hint. Retrieval degrades to an empty result
// on its own, so this node never fails the graph on a retrieval outage.
func maybeRetrieveNode(deps Deps) workflow.NodeFunc {
	return func(ctx context.Context, state workflow.State) (workflow.State, error) {
		struggling, _ := state["is_struggling"].(bool)
		if !struggling || deps.Retriever == nil {
			return workflow.State{}, nil
		}

		errorLogs := stringSlice(state["error_logs"])
		terminalErrs := stringSlice(state["terminal_errors"])
		sctx, _ := state["struggle_context"].(models.StruggleContext)

		query := strings.Join(errorLogs, "\n")
		if sctx.LanguageID != "" {
			query = fmt.Sprintf("%s\nlanguage: %s", query, sctx.LanguageID)
		}

		result := deps.Retriever.Query(ctx, query, terminalErrs, deps.TopK)
		return workflow.State{
			"rag_context": result.Context,
			"citations":   result.Citations,
		}, nil
	}
}

// generate calls the LLM layer with a deterministic prompt parameterised
// by inputs, prior lesson recommendations in this thread, and
// rag_context, after scrubbing secrets/PII out of the struggle context.
func generateNode(deps Deps) workflow.NodeFunc {
	return func(ctx context.Context, state workflow.State) (workflow.State, error) {
		struggling, _ := state["is_struggling"].(bool)
		if !struggling || deps.LLM == nil {
			return workflow.State{}, nil
		}

		sctx, _ := state["struggle_context"].(models.StruggleContext)
		scrubbedSnippet, scrubbedDiag, wasRedacted := privacy.ScrubStruggleContext(sctx.Snippet, sctx.DiagnosticsErrs)
		if wasRedacted {
			log.Warn().Str("file_key", sctx.FileKey).Msg("struggle graph: redacted secrets before generate")
		}

		history := stringSlice(state["history"])
		ragContext, _ := state["rag_context"].(string)

		prompt := buildLessonPrompt(scrubbedSnippet, scrubbedDiag, history, ragContext, sctx.LanguageID)

		resp := deps.LLM.Invoke(ctx, prompt, deps.invokeOpts())
		if resp.Err != nil {
			return nil, resp.Err
		}
		return workflow.State{"lesson_recommendation": resp.Text}, nil
	}
}

func buildLessonPrompt(snippet string, diagnostics, history []string, ragContext, languageID string) string {
	var b strings.Builder
	b.WriteString("You are assisting a developer who appears to be struggling.\n")
	if languageID != "" {
		fmt.Fprintf(&b, "Language: %s\n", languageID)
	}
	if snippet != "" {
		fmt.Fprintf(&b, "Code snippet:\n%s\n", snippet)
	}
	if len(diagnostics) > 0 {
		fmt.Fprintf(&b, "Diagnostics:\n%s\n", strings.Join(diagnostics, "\n"))
	}
	if len(history) > 0 {
		fmt.Fprintf(&b, "Prior lesson recommendations in this thread:\n%s\n", strings.Join(history, "\n---\n"))
	}
	if ragContext != "" {
		fmt.Fprintf(&b, "Relevant reference material:\n%s\n", ragContext)
	}
	b.WriteString("Produce one concise, actionable lesson recommendation.")
	return b.String()
}

// finalize is the terminal node: lesson_recommendation, if generate
// produced one, is already in state, so finalize's only job is to make
// that explicit as the channel the runtime reads back into
// WorkflowIntermediate once the thread reaches completed.
func finalizeNode() workflow.NodeFunc {
	return func(_ context.Context, state workflow.State) (workflow.State, error) {
		lesson, _ := state["lesson_recommendation"].(string)
		return workflow.State{"lesson_recommendation": lesson}, nil
	}
}
