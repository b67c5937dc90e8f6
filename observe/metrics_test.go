package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestInstruments(t *testing.T) (*Instruments, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	in, err := NewInstruments(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewInstruments() error = %v", err)
	}
	return in, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, m *metricdata.Metrics, kv attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v == kv.Value {
			total += dp.Value
		}
	}
	return total
}

func TestInstruments_RetryAttempts(t *testing.T) {
	in, reader := newTestInstruments(t)
	ctx := context.Background()

	in.RecordAttempt(ctx, "claim", 0, errors.New("busy"))
	in.RecordAttempt(ctx, "claim", 1, nil)

	m := findMetric(collect(t, reader), "steady.retry.attempts")
	if m == nil {
		t.Fatal("steady.retry.attempts not found")
	}
	if got := sumValue(t, m, attribute.String("outcome", "error")); got != 1 {
		t.Errorf("error attempts = %d, want 1", got)
	}
	if got := sumValue(t, m, attribute.String("outcome", "ok")); got != 1 {
		t.Errorf("ok attempts = %d, want 1", got)
	}
}

func TestInstruments_PoolExhaustedOnlyOnError(t *testing.T) {
	in, reader := newTestInstruments(t)
	ctx := context.Background()

	in.RecordPoolAcquire(ctx, "http", 2*time.Millisecond, nil)
	in.RecordPoolAcquire(ctx, "http", 30*time.Second, errors.New("exhausted"))

	rm := collect(t, reader)
	m := findMetric(rm, "steady.pool.exhausted")
	if m == nil {
		t.Fatal("steady.pool.exhausted not found")
	}
	if got := sumValue(t, m, attribute.String("pool", "http")); got != 1 {
		t.Errorf("exhausted = %d, want 1", got)
	}

	hist := findMetric(rm, "steady.pool.acquire.duration_ms")
	if hist == nil {
		t.Fatal("steady.pool.acquire.duration_ms not found")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", hist.Data)
	}
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("histogram count = %d, want 2", count)
	}
}

func TestInstruments_CacheAndClaims(t *testing.T) {
	in, reader := newTestInstruments(t)
	ctx := context.Background()

	in.RecordCacheLookup(ctx, "users", true)
	in.RecordCacheLookup(ctx, "users", false)
	in.RecordCacheLookup(ctx, "users", false)
	in.RecordCacheEviction(ctx, "users", "pressure", 3)
	in.RecordCacheEviction(ctx, "users", "expired", 0)
	in.RecordClaim(ctx, "accounts", true, nil)
	in.RecordClaim(ctx, "accounts", false, nil)

	rm := collect(t, reader)

	lookups := findMetric(rm, "steady.cache.lookups")
	if lookups == nil {
		t.Fatal("steady.cache.lookups not found")
	}
	if got := sumValue(t, lookups, attribute.String("result", "miss")); got != 2 {
		t.Errorf("misses = %d, want 2", got)
	}

	evictions := findMetric(rm, "steady.cache.evictions")
	if evictions == nil {
		t.Fatal("steady.cache.evictions not found")
	}
	if got := sumValue(t, evictions, attribute.String("reason", "pressure")); got != 3 {
		t.Errorf("pressure evictions = %d, want 3", got)
	}
	if got := sumValue(t, evictions, attribute.String("reason", "expired")); got != 0 {
		t.Errorf("expired evictions = %d, want 0", got)
	}

	claims := findMetric(rm, "steady.claim.results")
	if claims == nil {
		t.Fatal("steady.claim.results not found")
	}
	if got := sumValue(t, claims, attribute.String("result", "claimed")); got != 1 {
		t.Errorf("claimed = %d, want 1", got)
	}
	if got := sumValue(t, claims, attribute.String("result", "none")); got != 1 {
		t.Errorf("none = %d, want 1", got)
	}
}

func TestInstruments_RemoteAndBreaker(t *testing.T) {
	in, reader := newTestInstruments(t)
	ctx := context.Background()

	in.RecordRemoteCall(ctx, "chat:1", 120*time.Millisecond, nil)
	in.RecordBreakerTransition(ctx, "chat:1", "closed", "open")

	rm := collect(t, reader)
	if m := findMetric(rm, "steady.remote.calls"); m == nil {
		t.Error("steady.remote.calls not found")
	} else if got := sumValue(t, m, attribute.String("target", "chat:1")); got != 1 {
		t.Errorf("remote calls = %d, want 1", got)
	}
	if m := findMetric(rm, "steady.breaker.transitions"); m == nil {
		t.Error("steady.breaker.transitions not found")
	} else if got := sumValue(t, m, attribute.String("to", "open")); got != 1 {
		t.Errorf("transitions to open = %d, want 1", got)
	}
	if findMetric(rm, "steady.remote.duration_ms") == nil {
		t.Error("steady.remote.duration_ms not found")
	}
}

func TestInstruments_NilIsNoop(t *testing.T) {
	var in *Instruments
	ctx := context.Background()

	in.RecordAttempt(ctx, "op", 0, nil)
	in.RecordBreakerTransition(ctx, "t", "closed", "open")
	in.RecordPoolAcquire(ctx, "p", time.Millisecond, nil)
	in.RecordCacheLookup(ctx, "c", true)
	in.RecordCacheEviction(ctx, "c", "expired", 1)
	in.RecordClaim(ctx, "p", true, nil)
	in.RecordRemoteCall(ctx, "t", time.Millisecond, nil)
}
