package knowledge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/pkg/models"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int32
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.vec, f.err
}

type fakeIndex struct {
	chunks []models.KnowledgeChunk
	sims   []float64
	err    error
}

func (f fakeIndex) Query(_ context.Context, _ []float32, _ int) ([]models.KnowledgeChunk, []float64, error) {
	return f.chunks, f.sims, f.err
}

func TestRetriever_Query_ReturnsTopKWithCitations(t *testing.T) {
	r := New(&fakeEmbedder{vec: []float32{0.1}}, fakeIndex{
		chunks: []models.KnowledgeChunk{
			{ID: "c1", Content: "first chunk", Metadata: models.ChunkMetadata{Path: "a.md", ChunkIx: 0}},
			{ID: "c2", Content: "second chunk", Metadata: models.ChunkMetadata{Path: "b.md", ChunkIx: 1}},
		},
		sims: []float64{0.95, 0.80},
	}, Config{TopK: 2})
	defer r.Close()

	res := r.Query(context.Background(), "how do I fix this error", []string{"NPE"}, 0)

	assert.Contains(t, res.Context, "first chunk")
	assert.Contains(t, res.Context, "second chunk")
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "c1", res.Citations[0].ID)
	assert.Equal(t, 0.95, res.Citations[0].Similarity)
}

func TestRetriever_Query_DegradesToEmptyOnIndexFailure(t *testing.T) {
	r := New(&fakeEmbedder{vec: []float32{0.1}}, fakeIndex{err: errors.New("index down")}, Config{})
	defer r.Close()

	res := r.Query(context.Background(), "query text", nil, 3)
	assert.Equal(t, Result{}, res)
}

func TestRetriever_Query_DegradesToEmptyOnEmbedderFailure(t *testing.T) {
	r := New(&fakeEmbedder{err: errors.New("embed down")}, fakeIndex{}, Config{})
	defer r.Close()

	res := r.Query(context.Background(), "query text", nil, 3)
	assert.Equal(t, Result{}, res)
}

func TestRetriever_Query_EmptyQueryAndPatternsShortCircuits(t *testing.T) {
	r := New(&fakeEmbedder{vec: []float32{0.1}}, fakeIndex{
		chunks: []models.KnowledgeChunk{{ID: "c1", Content: "should not appear"}},
		sims:   []float64{1.0},
	}, Config{})
	defer r.Close()

	res := r.Query(context.Background(), "", nil, 3)
	assert.Equal(t, Result{}, res)
}

func TestRetriever_Query_NilCollaboratorsDegradeToEmpty(t *testing.T) {
	r := New(nil, nil, Config{})
	defer r.Close()

	res := r.Query(context.Background(), "anything", nil, 3)
	assert.Equal(t, Result{}, res)
}

func TestRetriever_Query_RespectsMaxContextBytes(t *testing.T) {
	r := New(&fakeEmbedder{vec: []float32{0.1}}, fakeIndex{
		chunks: []models.KnowledgeChunk{
			{ID: "c1", Content: "0123456789"},
			{ID: "c2", Content: "abcdefghij"},
		},
		sims: []float64{0.9, 0.8},
	}, Config{MaxContextBytes: 5})
	defer r.Close()

	res := r.Query(context.Background(), "q", nil, 2)
	assert.LessOrEqual(t, len(res.Context), 5)
}

func TestRetriever_Query_RepeatedQueryHitsResultCache(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{0.1}}
	r := New(embedder, fakeIndex{
		chunks: []models.KnowledgeChunk{{ID: "c1", Content: "cached chunk"}},
		sims:   []float64{0.9},
	}, Config{CacheTTL: time.Minute})
	defer r.Close()

	first := r.Query(context.Background(), "how do I fix this", nil, 1)
	second := r.Query(context.Background(), "how do I fix this", nil, 1)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&embedder.calls), "second identical query should be served from the result cache")
}
