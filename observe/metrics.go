package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the metric instruments recorded by the core components.
//
// A nil *Instruments is valid and records nothing, so components can keep the
// field unset when telemetry is disabled.
type Instruments struct {
	retryAttempts      metric.Int64Counter
	breakerTransitions metric.Int64Counter
	poolAcquireHist    metric.Float64Histogram
	poolExhausted      metric.Int64Counter
	cacheLookups       metric.Int64Counter
	cacheEvictions     metric.Int64Counter
	claims             metric.Int64Counter
	remoteCalls        metric.Int64Counter
	remoteDurationHist metric.Float64Histogram
}

// NewInstruments registers the core's instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)

	if in.retryAttempts, err = meter.Int64Counter(
		"steady.retry.attempts",
		metric.WithDescription("Operation attempts made by retry loops"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if in.breakerTransitions, err = meter.Int64Counter(
		"steady.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}

	if in.poolAcquireHist, err = meter.Float64Histogram(
		"steady.pool.acquire.duration_ms",
		metric.WithDescription("Time spent acquiring a pooled resource in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if in.poolExhausted, err = meter.Int64Counter(
		"steady.pool.exhausted",
		metric.WithDescription("Acquisitions rejected because the pool stayed exhausted"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if in.cacheLookups, err = meter.Int64Counter(
		"steady.cache.lookups",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if in.cacheEvictions, err = meter.Int64Counter(
		"steady.cache.evictions",
		metric.WithDescription("Cache entries removed by expiry or pressure"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if in.claims, err = meter.Int64Counter(
		"steady.claim.results",
		metric.WithDescription("Claim attempts by result"),
		metric.WithUnit("{claim}"),
	); err != nil {
		return nil, err
	}

	if in.remoteCalls, err = meter.Int64Counter(
		"steady.remote.calls",
		metric.WithDescription("Remote API calls by outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if in.remoteDurationHist, err = meter.Float64Histogram(
		"steady.remote.duration_ms",
		metric.WithDescription("Remote API call duration including retries in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return &in, nil
}

// RecordAttempt records one retry loop attempt.
func (in *Instruments) RecordAttempt(ctx context.Context, op string, attempt int, err error) {
	if in == nil {
		return
	}
	in.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("first", attempt == 0),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordBreakerTransition records a circuit breaker state change for target.
func (in *Instruments) RecordBreakerTransition(ctx context.Context, target, from, to string) {
	if in == nil {
		return
	}
	in.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordPoolAcquire records how long an acquisition waited and whether it failed.
func (in *Instruments) RecordPoolAcquire(ctx context.Context, pool string, wait time.Duration, err error) {
	if in == nil {
		return
	}
	opt := metric.WithAttributes(
		attribute.String("pool", pool),
		attribute.String("outcome", outcome(err)),
	)
	in.poolAcquireHist.Record(ctx, float64(wait.Microseconds())/1000, opt)
	if err != nil {
		in.poolExhausted.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
	}
}

// RecordCacheLookup records a cache hit or miss.
func (in *Instruments) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	if in == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	in.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("result", result),
	))
}

// RecordCacheEviction records n entries removed for reason ("expired" or "pressure").
func (in *Instruments) RecordCacheEviction(ctx context.Context, cache, reason string, n int) {
	if in == nil || n == 0 {
		return
	}
	in.cacheEvictions.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("reason", reason),
	))
}

// RecordClaim records the result of one claim attempt.
func (in *Instruments) RecordClaim(ctx context.Context, pool string, claimed bool, err error) {
	if in == nil {
		return
	}
	result := "none"
	switch {
	case err != nil:
		result = "error"
	case claimed:
		result = "claimed"
	}
	in.claims.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pool", pool),
		attribute.String("result", result),
	))
}

// RecordRemoteCall records a full remote call, retries included.
func (in *Instruments) RecordRemoteCall(ctx context.Context, target string, duration time.Duration, err error) {
	if in == nil {
		return
	}
	opt := metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("outcome", outcome(err)),
	)
	in.remoteCalls.Add(ctx, 1, opt)
	in.remoteDurationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
