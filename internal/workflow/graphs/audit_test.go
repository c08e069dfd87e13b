package graphs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/internal/llm"
	"github.com/aura-labs/struggle/internal/workflow"
)

func TestSplitHunks(t *testing.T) {
	diff := "diff --git a/x.go b/x.go\n@@ -1,2 +1,2 @@\n-old\n+new\n@@ -10,1 +10,1 @@\n-foo\n+bar\n"
	hunks := splitHunks(diff)
	require.Len(t, hunks, 2)
	assert.Contains(t, hunks[0], "-old")
	assert.Contains(t, hunks[1], "-foo")
}

func TestSplitHunks_Empty(t *testing.T) {
	assert.Nil(t, splitHunks(""))
}

// keyedCompleter picks a canned response by matching a substring of the
// prompt, so concurrent InvokeBatch calls (whose completion order is not
// deterministic) still map predictably back to the hunk/candidate that
// produced each prompt.
type keyedCompleter struct {
	byContains map[string]string
	fallback   string
}

func (k *keyedCompleter) Complete(_ context.Context, _, prompt string, _ float64) (string, error) {
	for substr, resp := range k.byContains {
		if strings.Contains(prompt, substr) {
			return resp, nil
		}
	}
	return k.fallback, nil
}

func TestAuditGraph_ClassifyAndFilter(t *testing.T) {
	deps := testDeps(t, "")
	classifier := &keyedCompleter{
		byContains: map[string]string{
			"+x, _ := f()": "missing error check",
		},
		fallback: "none",
	}
	deps.LLM = llm.New(classifier, nil, llm.Config{BatchSize: 2})

	g := NewAuditGraph(deps)

	diff := "@@ -1,2 +1,2 @@\n-x, err := f()\n+x, _ := f()\n@@ -5,1 +5,1 @@\n-y := 1\n+y := 2\n"
	state := runGraph(t, g, map[string]any{
		"diff":        diff,
		"language_id": "go",
	})

	hunks, _ := state["hunks"].([]string)
	assert.Len(t, hunks, 2)

	candidates, _ := state["candidate_violations"].([]string)
	assert.Len(t, candidates, 1)
	assert.Contains(t, candidates[0], "missing error check")
}

func TestAuditGraph_FilterFalsePositivesIsolatesFailures(t *testing.T) {
	deps := testDeps(t, "")
	confirmer := &keyedCompleter{
		byContains: map[string]string{
			"missing error check": "confirm: real issue",
			"unused variable":     "reject, not an issue",
		},
	}
	deps.LLM = llm.New(confirmer, nil, llm.Config{BatchSize: 2})

	g := NewAuditGraph(deps)
	state := workflow.State{
		"candidate_violations": []string{"missing error check", "unused variable"},
	}

	patch, err := g.Nodes[3].Fn(context.Background(), state)
	require.NoError(t, err)

	violations, _ := patch["violations"].([]string)
	assert.Equal(t, []string{"missing error check"}, violations)
}

func TestAuditGraph_EmptyDiffShortCircuits(t *testing.T) {
	deps := testDeps(t, "")
	g := NewAuditGraph(deps)

	state := runGraph(t, g, map[string]any{"diff": ""})

	assert.Nil(t, state["hunks"])
	assert.Nil(t, state["violations"])
}
