package worker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/internal/config"
)

func TestHandleHealth_ReportsVersionWithoutStoreOrCache(t *testing.T) {
	svc := &Service{version: "test-version"}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	svc.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.NotContains(t, body, "cache")
	assert.NotContains(t, body, "store")
}

func TestHandleReady_OKWithoutStore(t *testing.T) {
	svc := &Service{}
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	svc.handleReady(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTrigger_MalformedBodyRejected(t *testing.T) {
	svc := &Service{}
	req := httptest.NewRequest(http.MethodPost, "/api/struggle", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()

	svc.handleTrigger(rec, req, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "invalid_input", env.Error.Type)
}

func TestHandleTrigger_MissingFileKeyRejected(t *testing.T) {
	svc := &Service{}
	req := httptest.NewRequest(http.MethodPost, "/api/struggle", strings.NewReader(`{"source":"vscode"}`))
	rec := httptest.NewRecorder()

	svc.handleTrigger(rec, req, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Contains(t, env.Error.Message, "file_key")
}

func TestRateLimitOverridesFor_FallsBackToGlobalWhenUnset(t *testing.T) {
	cfg := &config.Config{RateLimitRequests: 10, RateLimitWindowS: 60}
	struggle, audit := rateLimitOverridesFor(cfg)

	assert.Equal(t, 10, struggle.Requests)
	assert.Equal(t, 10, audit.Requests)
}

func TestRateLimitOverridesFor_AppliesPerEndpointOverride(t *testing.T) {
	cfg := &config.Config{
		RateLimitRequests: 10,
		RateLimitWindowS:  60,
		RateLimitOverrides: []config.RateLimitRule{
			{Endpoint: "/api/struggle", Requests: 3, WindowS: 5},
		},
	}
	struggle, audit := rateLimitOverridesFor(cfg)

	assert.Equal(t, 3, struggle.Requests)
	assert.Equal(t, 5, struggle.WindowS)
	assert.Equal(t, 10, audit.Requests)
}
