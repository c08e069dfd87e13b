// Package graphs holds the concrete *workflow.Graph values this system
// runs: the struggle graph (detect, retrieve knowledge, generate a lesson,
// checkpoint) and the code-audit graph, which shares the same node-chain
// shape over a different domain.
package graphs

import (
	"time"

	"github.com/aura-labs/struggle/internal/knowledge"
	"github.com/aura-labs/struggle/internal/llm"
	"github.com/aura-labs/struggle/internal/workflow"
)

// Deps bundles the retrieval and generation collaborators both graphs'
// node bodies close over. Graphs themselves stay free of I/O concerns
// beyond what Deps exposes, mirroring the runtime's near-pure NodeFunc
// contract.
type Deps struct {
	Retriever *knowledge.Retriever
	LLM       *llm.Client

	Model            string
	Temperature      float64
	CallTimeout      time.Duration
	CacheTTL         time.Duration
	TopK             int
	TriggerThreshold float64
	EditFreqThresh   float64
}

func (d Deps) invokeOpts() llm.Options {
	return llm.Options{
		Model:       d.Model,
		Temperature: d.Temperature,
		Timeout:     d.CallTimeout,
		CacheTTL:    d.CacheTTL,
	}
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
