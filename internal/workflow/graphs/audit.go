package graphs

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aura-labs/struggle/internal/privacy"
	"github.com/aura-labs/struggle/internal/workflow"
)

// NewAuditGraph builds the code-audit graph: parse_diff, enrich_context,
// classify_violations, filter_false_positives, finalize. It shares the
// struggle graph's node-chain shape over a different domain: diff hunks
// instead of editor signals, style/convention violations instead of a
// lesson recommendation.
//
// Expected inputs: "diff" (unified diff text), "language_id", "file_path",
// "history" (prior confirmed violations in this thread, for context).
func NewAuditGraph(deps Deps) workflow.Graph {
	return workflow.Graph{
		Name: "audit",
		Nodes: []workflow.Node{
			{
				Name:   "parse_diff",
				Reads:  []string{"diff"},
				Writes: []string{"hunks"},
				Fn:     parseDiffNode(),
			},
			{
				Name:   "enrich_context",
				Reads:  []string{"hunks", "language_id"},
				Writes: []string{"rag_context", "citations"},
				Fn:     enrichContextNode(deps),
			},
			{
				Name:   "classify_violations",
				Reads:  []string{"hunks", "rag_context", "language_id"},
				Writes: []string{"candidate_violations"},
				Fn:     classifyViolationsNode(deps),
			},
			{
				Name:   "filter_false_positives",
				Reads:  []string{"candidate_violations"},
				Writes: []string{"violations"},
				Fn:     filterFalsePositivesNode(deps),
			},
			{
				Name:   "finalize",
				Reads:  []string{"violations"},
				Writes: []string{"violations"},
				Fn:     finalizeAuditNode(),
			},
		},
	}
}

// parseDiff splits a unified diff into per-hunk chunks (runs starting at
// each "@@" header), the unit the rest of the graph reasons about.
func parseDiffNode() workflow.NodeFunc {
	return func(_ context.Context, state workflow.State) (workflow.State, error) {
		diff, _ := state["diff"].(string)
		hunks := splitHunks(diff)
		return workflow.State{"hunks": hunks}, nil
	}
}

func splitHunks(diff string) []string {
	if diff == "" {
		return nil
	}
	lines := strings.Split(diff, "\n")
	var hunks []string
	var current strings.Builder
	inHunk := false

	flush := func() {
		if inHunk && current.Len() > 0 {
			hunks = append(hunks, current.String())
		}
		current.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "@@") {
			flush()
			inHunk = true
		}
		if inHunk {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}
	flush()
	return hunks
}

// enrichContext retrieves style/convention reference material keyed on the
// changed lines' content, the diff-graph analogue of maybe_retrieve.
func enrichContextNode(deps Deps) workflow.NodeFunc {
	return func(ctx context.Context, state workflow.State) (workflow.State, error) {
		hunks := stringSlice(state["hunks"])
		if len(hunks) == 0 || deps.Retriever == nil {
			return workflow.State{}, nil
		}
		languageID, _ := state["language_id"].(string)

		query := strings.Join(hunks, "\n")
		if languageID != "" {
			query = fmt.Sprintf("%s\nlanguage: %s", query, languageID)
		}

		result := deps.Retriever.Query(ctx, query, nil, deps.TopK)
		return workflow.State{
			"rag_context": result.Context,
			"citations":   result.Citations,
		}, nil
	}
}

// classifyViolations asks the LLM layer, one call per hunk via
// InvokeBatch, whether the hunk violates a convention, secrets in the diff
// text redacted first. A hunk whose classification fails or comes back
// "none" contributes no candidate.
func classifyViolationsNode(deps Deps) workflow.NodeFunc {
	return func(ctx context.Context, state workflow.State) (workflow.State, error) {
		hunks := stringSlice(state["hunks"])
		if len(hunks) == 0 || deps.LLM == nil {
			return workflow.State{}, nil
		}
		languageID, _ := state["language_id"].(string)
		ragContext, _ := state["rag_context"].(string)

		prompts := make([]string, len(hunks))
		for i, hunk := range hunks {
			prompts[i] = buildClassifyPrompt(privacy.RedactSecrets(hunk), languageID, ragContext)
		}

		responses := deps.LLM.InvokeBatch(ctx, prompts, deps.invokeOpts())

		var candidates []string
		for i, resp := range responses {
			if resp.Err != nil {
				log.Warn().Err(resp.Err).Int("hunk", i).Msg("audit graph: classify_violations hunk failed")
				continue
			}
			text := strings.TrimSpace(resp.Text)
			if text == "" || strings.EqualFold(text, "none") {
				continue
			}
			candidates = append(candidates, text)
		}
		return workflow.State{"candidate_violations": candidates}, nil
	}
}

func buildClassifyPrompt(hunk, languageID, ragContext string) string {
	var b strings.Builder
	b.WriteString("Review this code change for convention or style violations.\n")
	if languageID != "" {
		fmt.Fprintf(&b, "Language: %s\n", languageID)
	}
	if ragContext != "" {
		fmt.Fprintf(&b, "Style reference:\n%s\n", ragContext)
	}
	fmt.Fprintf(&b, "Diff hunk:\n%s\n", hunk)
	b.WriteString(`Reply with "none" if there is no violation, otherwise describe it in one sentence.`)
	return b.String()
}

// filterFalsePositives re-checks each candidate violation with a second,
// more targeted LLM call, keeping only those the second pass confirms.
// InvokeBatch's per-item failure isolation means a handful of failed
// confirmations degrade that subset's recall, not the whole batch.
func filterFalsePositivesNode(deps Deps) workflow.NodeFunc {
	return func(ctx context.Context, state workflow.State) (workflow.State, error) {
		candidates := stringSlice(state["candidate_violations"])
		if len(candidates) == 0 || deps.LLM == nil {
			return workflow.State{"violations": candidates}, nil
		}

		prompts := make([]string, len(candidates))
		for i, c := range candidates {
			prompts[i] = buildConfirmPrompt(c)
		}

		responses := deps.LLM.InvokeBatch(ctx, prompts, deps.invokeOpts())

		var confirmed []string
		for i, resp := range responses {
			if resp.Err != nil {
				log.Warn().Err(resp.Err).Int("candidate", i).Msg("audit graph: filter_false_positives confirmation failed")
				continue
			}
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp.Text)), "confirm") {
				confirmed = append(confirmed, candidates[i])
			}
		}
		return workflow.State{"violations": confirmed}, nil
	}
}

func buildConfirmPrompt(candidate string) string {
	return fmt.Sprintf(
		"A prior pass flagged this possible violation:\n%s\nReply \"confirm\" if this is a genuine violation, \"reject\" if it is a false positive.",
		candidate,
	)
}

func finalizeAuditNode() workflow.NodeFunc {
	return func(_ context.Context, state workflow.State) (workflow.State, error) {
		violations := stringSlice(state["violations"])
		return workflow.State{"violations": violations}, nil
	}
}
