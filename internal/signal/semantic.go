package signal

import "github.com/aura-labs/struggle/pkg/models"

// Embedder produces an embedding vector for a snippet of code. The semantic
// detector is optional and disabled by default; when no Embedder is wired
// it simply never reports a signal.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// SemanticConfig parameterises the optional semantic drift detector.
type SemanticConfig struct {
	WindowMs          int64
	MaxEventsPerFile  int
	ReferenceEmbedding []float32
}

// SemanticDetector compares edited snippet embeddings to a reference
// corpus to detect drift from idiomatic patterns. Disabled by default; the
// aggregator never registers it unless configuration enables it, so a
// disabled detector can never appear in tie-break ordering.
type SemanticDetector struct {
	cfg      SemanticConfig
	embedder Embedder
	buffers  *perFileBuffers
}

func NewSemanticDetector(cfg SemanticConfig, embedder Embedder) *SemanticDetector {
	return &SemanticDetector{cfg: cfg, embedder: embedder, buffers: newPerFileBuffers(cfg.MaxEventsPerFile)}
}

func (d *SemanticDetector) Type() models.SignalType { return models.SignalSemantic }

func (d *SemanticDetector) Observe(event models.SignalEvent) {
	if event.Kind != models.KindEdit {
		return
	}
	d.buffers.get(event.FileKey).push(event)
}

func (d *SemanticDetector) Evaluate(fileKey string, nowMs int64) (models.Signal, bool) {
	if d.embedder == nil || len(d.cfg.ReferenceEmbedding) == 0 {
		return models.Signal{}, false
	}
	events := d.buffers.get(fileKey).windowed(nowMs, d.cfg.WindowMs)
	if len(events) == 0 {
		return models.Signal{}, false
	}

	latest := events[len(events)-1]
	snippet, ok := snippetOf(latest)
	if !ok || snippet == "" {
		return models.Signal{}, false
	}

	emb, err := d.embedder.Embed(snippet)
	if err != nil {
		return models.Signal{}, false
	}

	similarity := cosineSimilarity(emb, d.cfg.ReferenceEmbedding)
	drift := clamp01(1 - similarity)

	sig := models.Signal{
		Type:     models.SignalSemantic,
		Score:    drift,
		WindowMs: d.cfg.WindowMs,
		Metadata: map[string]any{"driftFromReference": drift},
	}
	return sig, true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for range 20 {
		z -= (z*z - x) / (2 * z)
	}
	return z
}
