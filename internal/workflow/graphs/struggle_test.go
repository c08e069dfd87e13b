package graphs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/internal/knowledge"
	"github.com/aura-labs/struggle/internal/llm"
	"github.com/aura-labs/struggle/internal/workflow"
	"github.com/aura-labs/struggle/pkg/models"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeIndex struct {
	chunks []models.KnowledgeChunk
	sims   []float64
}

func (f fakeIndex) Query(_ context.Context, _ []float32, _ int) ([]models.KnowledgeChunk, []float64, error) {
	return f.chunks, f.sims, nil
}

type fakeCompleter struct {
	response string
	err      error
}

func (f fakeCompleter) Complete(_ context.Context, _, _ string, _ float64) (string, error) {
	return f.response, f.err
}

func testDeps(t *testing.T, completion string) Deps {
	t.Helper()
	retriever := knowledge.New(fakeEmbedder{}, fakeIndex{
		chunks: []models.KnowledgeChunk{{ID: "c1", Content: "use context.Context for cancellation"}},
		sims:   []float64{0.9},
	}, knowledge.Config{TopK: 3})

	client := llm.New(fakeCompleter{response: completion}, nil, llm.Config{BatchSize: 2})

	return Deps{
		Retriever:        retriever,
		LLM:              client,
		TriggerThreshold: 0.6,
		EditFreqThresh:   10,
		TopK:             3,
	}
}

func runGraph(t *testing.T, g workflow.Graph, inputs map[string]any) workflow.State {
	t.Helper()
	state := workflow.State{}
	for k, v := range inputs {
		state[k] = v
	}
	for _, node := range g.Nodes {
		patch, err := node.Fn(context.Background(), state)
		require.NoError(t, err)
		state = state.ApplyPatch(patch)
	}
	return state
}

func TestStruggleGraph_NotStruggling(t *testing.T) {
	deps := testDeps(t, "lesson text")
	g := NewStruggleGraph(deps)

	state := runGraph(t, g, map[string]any{
		"edit_frequency": 1.0,
		"error_logs":     []string{},
		"combined_score": 0.1,
	})

	assert.Equal(t, false, state["is_struggling"])
	assert.Nil(t, state["rag_context"])
	assert.Nil(t, state["lesson_recommendation"])
}

func TestStruggleGraph_StrugglingProducesLesson(t *testing.T) {
	deps := testDeps(t, "break the loop into two functions")
	g := NewStruggleGraph(deps)

	state := runGraph(t, g, map[string]any{
		"edit_frequency": 1.0,
		"error_logs":     []string{"NullPointerException"},
		"combined_score": 0.9,
		"history":        []string{},
		"struggle_context": models.StruggleContext{
			FileKey:    "file1",
			LanguageID: "go",
			Snippet:    "fmt.Println(x)",
		},
	})

	assert.Equal(t, true, state["is_struggling"])
	assert.Contains(t, state["rag_context"], "context.Context")
	assert.Equal(t, "break the loop into two functions", state["lesson_recommendation"])
}

func TestStruggleGraph_GenerateFailurePropagates(t *testing.T) {
	deps := testDeps(t, "")
	deps.LLM = llm.New(fakeCompleter{err: assertErr{}}, nil, llm.Config{})

	g := NewStruggleGraph(deps)
	state := workflow.State{
		"is_struggling":     true,
		"struggle_context":  models.StruggleContext{},
		"history":           []string{},
	}

	_, err := g.Nodes[2].Fn(context.Background(), state)
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
