// Package knowledge implements knowledge retrieval (C6): querying a vector
// index with optional error-pattern enrichment and returning top-k,
// byte/token-capped context plus citations for transparency.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/aura-labs/struggle/pkg/models"
)

// DefaultTopK mirrors the external interface contract's default.
const DefaultTopK = 3

// DefaultMaxContextBytes bounds the concatenated context's size; retrieval
// is advisory context for a lesson prompt, not a full document dump.
const DefaultMaxContextBytes = 4000

// Embedder produces an embedding vector for a query string.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the vector store contract knowledge retrieval queries against.
// The Postgres/pgvector implementation lives in pgvector.go; tests and
// callers without a database substitute an in-memory fake.
type Index interface {
	Query(ctx context.Context, embedding []float32, topK int) ([]models.KnowledgeChunk, []float64, error)
}

// Result is the {context, citations[]} pair the struggle and audit graphs'
// maybe_retrieve / enrich_context nodes attach to workflow state.
type Result struct {
	Context   string            `json:"context"`
	Citations []models.Citation `json:"citations"`
}

// Config parameterises a Retriever.
type Config struct {
	TopK            int
	MaxContextBytes int
	CacheTTL        time.Duration
	CacheMaxSize    int
}

// Retriever is the single entry point for knowledge retrieval. It
// coalesces identical concurrent queries via singleflight, matching the
// teacher's search.Manager request-coalescing pattern, sits a TTL-bounded
// frequency-warmed result cache in front of the coalesced lookup, and
// degrades to an empty Result on any failure rather than failing the
// calling workflow — retrieval is advisory, never load-bearing.
type Retriever struct {
	embedder Embedder
	index    Index
	cfg      Config
	inflight singleflight.Group
	cache    *resultCache
}

func New(embedder Embedder, index Index, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxContextBytes <= 0 {
		cfg.MaxContextBytes = DefaultMaxContextBytes
	}
	r := &Retriever{embedder: embedder, index: index, cfg: cfg}
	r.cache = newResultCache(cfg.CacheTTL, cfg.CacheMaxSize, func(ctx context.Context, combined string, topK int) (Result, error) {
		return r.query(ctx, combined, topK)
	})
	return r
}

// Close stops the result cache's background cleanup/warming goroutines.
func (r *Retriever) Close() {
	r.cache.Close()
}

// Query preprocesses q by appending errorPatterns (stopwords are
// deliberately not stripped: error tokens such as "NullPointerException"
// or "TS2304" carry the signal), embeds the combined text, queries the
// vector index for the top_k nearest chunks, and concatenates their
// content into a byte-capped context string with accompanying citations.
//
// If the index is unavailable or the embedder fails, Query logs a warning
// and returns an empty Result rather than propagating the error: per the
// retrieval failure-mode contract, a down vector index must never fail
// the calling workflow.
func (r *Retriever) Query(ctx context.Context, q string, errorPatterns []string, topK int) Result {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	combined := buildQuery(q, errorPatterns)
	if combined == "" || r.embedder == nil || r.index == nil {
		return Result{}
	}

	key := cacheKeyFor(combined, topK)
	r.cache.recordQuery(key, combined, topK)
	if cached, ok := r.cache.get(key); ok {
		return cached
	}

	v, err, _ := r.inflight.Do(key, func() (any, error) {
		return r.query(ctx, combined, topK)
	})
	if err != nil {
		log.Warn().Err(err).Msg("knowledge: retrieval failed, returning empty context")
		return Result{}
	}
	result := v.(Result)
	r.cache.put(key, result)
	return result
}

func (r *Retriever) query(ctx context.Context, combined string, topK int) (Result, error) {
	embedding, err := r.embedder.Embed(ctx, combined)
	if err != nil {
		return Result{}, err
	}

	chunks, similarities, err := r.index.Query(ctx, embedding, topK)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	citations := make([]models.Citation, 0, len(chunks))
	for i, chunk := range chunks {
		remaining := r.cfg.MaxContextBytes - b.Len()
		if remaining <= 0 {
			break
		}
		piece := chunk.Content
		if len(piece) > remaining {
			piece = piece[:remaining]
		}
		if b.Len() > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(piece)

		sim := 0.0
		if i < len(similarities) {
			sim = similarities[i]
		}
		citations = append(citations, models.Citation{
			ID:         chunk.ID,
			Path:       chunk.Metadata.Path,
			ChunkIx:    chunk.Metadata.ChunkIx,
			Similarity: sim,
		})
	}

	return Result{Context: b.String(), Citations: citations}, nil
}

// buildQuery appends error patterns to q with a separator; this is the
// "preprocessed" query the spec's §4.6 describes. Stopwords are never
// removed.
func buildQuery(q string, errorPatterns []string) string {
	q = strings.TrimSpace(q)
	if len(errorPatterns) == 0 {
		return q
	}
	parts := make([]string, 0, len(errorPatterns)+1)
	if q != "" {
		parts = append(parts, q)
	}
	parts = append(parts, errorPatterns...)
	return strings.Join(parts, " || ")
}

func cacheKeyFor(combined string, topK int) string {
	return fmt.Sprintf("%s\x00%d", combined, topK)
}
