// Package observability wires the otel tracer/meter used across the
// workflow runtime and LLM invocation layer: one span per superstep and
// per LLM call, plus counters for trigger/cache-hit/retry rates.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aura-labs/struggle"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	triggerCounter  metric.Int64Counter
	cacheHitCounter metric.Int64Counter
	retryCounter    metric.Int64Counter
)

func init() {
	triggerCounter, _ = meter.Int64Counter("struggle_triggers_total",
		metric.WithDescription("trigger submissions accepted by the bridge"))
	cacheHitCounter, _ = meter.Int64Counter("struggle_llm_cache_hits_total",
		metric.WithDescription("LLM invocations served from cache"))
	retryCounter, _ = meter.Int64Counter("struggle_node_retries_total",
		metric.WithDescription("workflow node executions retried after a retryable error"))
}

// StartSpan starts a span named name under ctx, returning the derived
// context and the span so callers can End() it with defer.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// RecordTrigger increments the trigger counter, tagged by thread status.
func RecordTrigger(ctx context.Context) {
	if triggerCounter != nil {
		triggerCounter.Add(ctx, 1)
	}
}

// RecordCacheHit increments the LLM cache-hit counter.
func RecordCacheHit(ctx context.Context) {
	if cacheHitCounter != nil {
		cacheHitCounter.Add(ctx, 1)
	}
}

// RecordRetry increments the node-retry counter.
func RecordRetry(ctx context.Context) {
	if retryCounter != nil {
		retryCounter.Add(ctx, 1)
	}
}
