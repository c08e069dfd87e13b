package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aura-labs/struggle/internal/apperr"
)

// Provider is the raw transport to the LLM backend: one HTTP POST per
// prompt, grounded on the teacher's embedding/openai.go request shape
// (Bearer auth, JSON body, timeout'd http.Client) adapted from an
// embeddings endpoint to a chat/completions-shaped one.
type Provider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewProvider(baseURL, apiKey string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type providerRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type providerResponse struct {
	Completion string `json:"completion"`
	Error      *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one prompt to the provider and returns its completion
// text. Errors are classified into apperr Kinds so the retry loop in
// client.go can decide whether to back off and retry or propagate
// immediately: timeouts and 5xx/429 responses are retryable; 4xx (other
// than 429) and malformed-input errors are not.
func (p *Provider) Complete(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	body, err := json.Marshal(providerRequest{Model: model, Prompt: prompt, Temperature: temperature})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, err, "marshal provider request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "build provider request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Wrap(apperr.KindUpstreamTimeout, err, "provider call timed out")
		}
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, err, "provider call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", rateLimitedError(resp)
	}
	if resp.StatusCode >= 500 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperr.New(apperr.KindTransient, fmt.Sprintf("provider %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperr.New(apperr.KindNonRetryable, fmt.Sprintf("provider auth error %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperr.New(apperr.KindNonRetryable, fmt.Sprintf("provider %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, err, "decode provider response")
	}
	if out.Error != nil {
		return "", apperr.New(apperr.KindNonRetryable, out.Error.Message)
	}
	return out.Completion, nil
}

// rateLimitedError builds a retryable KindRateLimited error, honouring a
// Retry-After response header when the provider sends one (the spec's
// "rate limits that include a retry-after hint" qualifier).
func rateLimitedError(resp *http.Response) error {
	msg := "provider rate limited"
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			msg = fmt.Sprintf("provider rate limited, retry after %ds", secs)
		}
	}
	return apperr.New(apperr.KindRateLimited, msg)
}
