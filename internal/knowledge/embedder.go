package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aura-labs/struggle/internal/apperr"
)

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint, grounded on
// the teacher's embedding/openai.go request/response shape (Bearer auth,
// "input"/"model"/"encoding_format" body, "data[].embedding" response)
// adapted to this package's Embedder interface.
type HTTPEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	dim     int
}

func NewHTTPEmbedder(baseURL, apiKey, model string, dim int, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if dim <= 0 {
		dim = 1536
	}
	return &HTTPEmbedder{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		dim:     dim,
	}
}

type embedRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the query embedding, or a zero vector for an empty string
// (matching the teacher's zero-vector short-circuit rather than a round
// trip for an empty query).
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, e.dim), nil
	}

	body, err := json.Marshal(embedRequest{Input: text, Model: e.model, EncodingFormat: "float"})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamTimeout, err, "embedding call timed out")
		}
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, err, "embedding call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := apperr.KindNonRetryable
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = apperr.KindTransient
		}
		return nil, apperr.New(kind, fmt.Sprintf("embedding API error (model=%s, status=%d): %s",
			e.model, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, err, "decode embedding response")
	}
	if len(out.Data) == 0 {
		return nil, apperr.New(apperr.KindUpstreamUnavailable, fmt.Sprintf("embedding API returned no results for model %s", e.model))
	}
	return out.Data[0].Embedding, nil
}
