package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aura-labs/struggle/pkg/models"
)

func testRegistryConfig() Config {
	return Config{
		EditPattern: defaultEditConfig(),
		UndoRedo:    UndoRedoConfig{WindowMs: 60_000, MaxEventsPerFile: 50},
		TimePattern: defaultTimePatternConfig(),
		Terminal:    defaultTerminalConfig(),
		Debug:       DebugConfig{WindowMs: 60_000, MaxEventsPerFile: 50, BreakpointChangeThreshold: 5},
	}
}

func TestRegistry_SemanticDisabledByDefault(t *testing.T) {
	r := NewRegistry(testRegistryConfig())
	types := r.Types()
	for _, ty := range types {
		assert.NotEqual(t, models.SignalSemantic, ty)
	}
	assert.Len(t, types, 5)
}

type stubEmbedder struct{ vec []float32 }

func (s stubEmbedder) Embed(string) ([]float32, error) { return s.vec, nil }

func TestRegistry_SemanticEnabledWhenEmbedderWired(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.SemanticEnabled = true
	cfg.Embedder = stubEmbedder{vec: []float32{1, 0, 0}}
	cfg.Semantic = SemanticConfig{WindowMs: 60_000, MaxEventsPerFile: 50, ReferenceEmbedding: []float32{1, 0, 0}}

	r := NewRegistry(cfg)
	assert.Len(t, r.Types(), 6)
}

func TestRegistry_ObserveFansOutToMatchingDetectorsOnly(t *testing.T) {
	r := NewRegistry(testRegistryConfig())
	const fileKey = "file:/repo/main.go"

	r.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindDiagnosticError, TsMs: 1000, Payload: "error: boom"})
	r.Observe(models.SignalEvent{FileKey: fileKey, Kind: models.KindDiagnosticError, TsMs: 2000, Payload: "error: boom again"})

	signals := r.EvaluateAll(fileKey, 2000)

	var sawTerminal bool
	for _, s := range signals {
		if s.Type == models.SignalTerminal {
			sawTerminal = true
		}
		assert.NotEqual(t, models.SignalEditPattern, s.Type)
	}
	assert.True(t, sawTerminal)
}
