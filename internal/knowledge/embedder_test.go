package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/internal/apperr"
)

func TestHTTPEmbedder_Embed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "test-key", "text-embedding-3-small", 3, time.Second)
	vec, err := e.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestHTTPEmbedder_Embed_EmptyTextShortCircuits(t *testing.T) {
	e := NewHTTPEmbedder("http://unreachable.invalid", "key", "model", 4, time.Second)
	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec)
}

func TestHTTPEmbedder_Embed_ServerErrorClassifiedRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "key", "model", 3, time.Second)
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
}

func TestHTTPEmbedder_Embed_BadRequestClassifiedNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "key", "model", 3, time.Second)
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNonRetryable, apperr.KindOf(err))
}
