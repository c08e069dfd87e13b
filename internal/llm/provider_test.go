package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/internal/apperr"
)

func TestProvider_Complete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"completion":"hello there"}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "test-key", time.Second)
	out, err := p.Complete(context.Background(), "haiku", "prompt", 0.2)
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestProvider_Complete_RateLimitedWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "key", time.Second)
	_, err := p.Complete(context.Background(), "haiku", "prompt", 0.2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
}

func TestProvider_Complete_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "key", time.Second)
	_, err := p.Complete(context.Background(), "haiku", "prompt", 0.2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
}

func TestProvider_Complete_UnauthorizedIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "bad-key", time.Second)
	_, err := p.Complete(context.Background(), "haiku", "prompt", 0.2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNonRetryable, apperr.KindOf(err))
}

func TestProvider_Complete_ProviderErrorFieldIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"prompt too long","type":"invalid_request"}}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "key", time.Second)
	_, err := p.Complete(context.Background(), "haiku", "prompt", 0.2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNonRetryable, apperr.KindOf(err))
}

func TestProvider_Complete_ContextDeadlineIsUpstreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"completion":"too slow"}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "key", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, "haiku", "prompt", 0.2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamTimeout, apperr.KindOf(err))
}
