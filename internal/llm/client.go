package llm

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aura-labs/struggle/internal/apperr"
	"github.com/aura-labs/struggle/internal/observability"
	"github.com/aura-labs/struggle/internal/privacy"
	"github.com/aura-labs/struggle/pkg/models"
)

// Completer is the transport dependency Client drives; *Provider in
// production, a fake in tests.
type Completer interface {
	Complete(ctx context.Context, model, prompt string, temperature float64) (string, error)
}

// Options parameterises one Invoke/InvokeBatch call.
type Options struct {
	Model       string
	Temperature float64
	Timeout     time.Duration
	CacheTTL    time.Duration
	MaxRetries  int
	Backoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "haiku"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Hour
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	return o
}

// Config bundles the batching knobs that apply across InvokeBatch calls.
type Config struct {
	BatchSize               int
	BatchDelay              time.Duration
	CacheEnabled            bool
	CircuitBreakerThreshold int64
	CircuitBreakerResetS    time.Duration
}

// Client is the LLM invocation layer (C7): cache lookup first, retry with
// exponential backoff and jitter on transient errors, timeout per call,
// a circuit breaker protecting the provider from cascading outages, and
// bounded-concurrency batching with per-prompt failure isolation.
type Client struct {
	provider Completer
	cache    Cache
	cfg      Config
	cb       *CircuitBreaker
}

func New(provider Completer, cache Cache, cfg Config) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Client{provider: provider, cache: cache, cfg: cfg, cb: NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerResetS)}
}

// CircuitBreakerState reports the provider circuit breaker's state for the
// health endpoint.
func (c *Client) CircuitBreakerState() string {
	return c.cb.State()
}

// Response is what Invoke/InvokeBatch return per prompt: exactly one of
// Text or Err is set, and Cached reports whether Text came from the cache.
type Response struct {
	Text   string
	Err    error
	Cached bool
}

// Invoke executes a single prompt: cache lookup, then (on miss) a
// retrying provider call under Options.Timeout, then a cache store on
// success — unless the prompt carries the privacy scrubber's redaction
// marker, in which case the response is never cached (a scrubbed prompt's
// content may legitimately differ run to run, so it must not become a
// stable cache key's value).
func (c *Client) Invoke(ctx context.Context, prompt string, opts Options) Response {
	opts = opts.withDefaults()
	ctx, span := observability.StartSpan(ctx, "llm.invoke")
	defer span.End()

	cacheable := c.cfg.CacheEnabled && c.cache != nil && !privacy.WasRedacted(prompt)
	key := CacheKey(prompt, opts.Model, opts.Temperature)

	if cacheable {
		if entry, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			observability.RecordCacheHit(ctx)
			return Response{Text: entry.Response, Cached: true}
		}
	}

	text, err := c.invokeWithRetry(ctx, prompt, opts)
	if err != nil {
		return Response{Err: err}
	}

	if cacheable {
		if err := c.cache.Put(ctx, key, models.CacheEntry{Response: text, CreatedAt: time.Now(), TTL: opts.CacheTTL}); err != nil {
			log.Warn().Err(err).Msg("llm: cache store failed")
		}
	}
	return Response{Text: text}
}

func (c *Client) invokeWithRetry(ctx context.Context, prompt string, opts Options) (string, error) {
	backoff := opts.Backoff
	var lastErr error

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if !c.cb.Allow() {
			return "", apperr.New(apperr.KindUpstreamUnavailable, "llm: circuit breaker open")
		}

		callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		text, err := c.provider.Complete(callCtx, opts.Model, prompt, opts.Temperature)
		timedOut := callCtx.Err() != nil
		cancel()

		if err == nil {
			c.cb.RecordSuccess()
			return text, nil
		}
		c.cb.RecordFailure()
		lastErr = err
		if timedOut {
			lastErr = apperr.Wrap(apperr.KindUpstreamTimeout, err, "llm call timed out")
		}

		if !apperr.IsRetryable(apperr.KindOf(lastErr)) {
			return "", lastErr
		}

		if attempt < opts.MaxRetries-1 {
			observability.RecordRetry(ctx)
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-time.After(backoff + jitter):
				backoff *= 2
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

// InvokeBatch runs prompts through Invoke with at most Config.BatchSize in
// flight concurrently, an optional fixed delay between the start of each
// batch wave, and per-prompt failures captured in the result slice without
// aborting siblings. The result slice's length always equals len(prompts)
// and positions correspond, per the batch invariant.
func (c *Client) InvokeBatch(ctx context.Context, prompts []string, opts Options) []Response {
	results := make([]Response, len(prompts))
	if len(prompts) == 0 {
		return results
	}

	sem := make(chan struct{}, c.cfg.BatchSize)
	var wg sync.WaitGroup

	for i, prompt := range prompts {
		if i > 0 && i%c.cfg.BatchSize == 0 && c.cfg.BatchDelay > 0 {
			select {
			case <-time.After(c.cfg.BatchDelay):
			case <-ctx.Done():
			}
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, p string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = c.Invoke(ctx, p, opts)
		}(i, prompt)
	}

	wg.Wait()
	return results
}
