package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/steadycore/pool"
	"github.com/jonwraymond/steadycore/resilience"
)

type staticStats pool.Stats

func (s staticStats) Stats() pool.Stats { return pool.Stats(s) }

func TestPoolChecker(t *testing.T) {
	tests := []struct {
		name  string
		stats pool.Stats
		want  Status
	}{
		{"idle", pool.Stats{Name: "sessions", Size: 2, Idle: 2, Max: 10}, StatusHealthy},
		{"busy", pool.Stats{Name: "sessions", Size: 9, InUse: 9, Max: 10}, StatusDegraded},
		{"saturated", pool.Stats{Name: "sessions", Size: 4, InUse: 4, Waiting: 3, Max: 4}, StatusDegraded},
		{"closed", pool.Stats{Name: "sessions", Closed: true, Max: 10}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPoolChecker(staticStats(tt.stats))
			if c.Name() != "pool:sessions" {
				t.Errorf("Name() = %v, want pool:sessions", c.Name())
			}
			r := c.Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("Status = %v, want %v (%s)", r.Status, tt.want, r.Message)
			}
			if r.Details["max"] != tt.stats.Max {
				t.Errorf("Details[max] = %v, want %d", r.Details["max"], tt.stats.Max)
			}
		})
	}
}

func TestPoolChecker_LivePool(t *testing.T) {
	p, err := pool.New[int](pool.Funcs[int]{
		CreateFn: func(context.Context) (int, error) { return 1, nil },
	}, pool.Config{Name: "workers", Max: 1, SweepInterval: -1})
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	c := NewPoolChecker(p)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := c.Check(ctx).Status; got != StatusDegraded {
		t.Errorf("fully lent pool status = %v, want degraded", got)
	}
	h.Release()
	if got := c.Check(ctx).Status; got != StatusHealthy {
		t.Errorf("idle pool status = %v, want healthy", got)
	}

	_ = p.Close()
	r := c.Check(ctx)
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, pool.ErrPoolClosed) {
		t.Errorf("closed pool result = %+v, want unhealthy ErrPoolClosed", r)
	}
}

func TestBreakerChecker(t *testing.T) {
	reg := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{MaxFailures: 1})
	c := NewBreakerChecker(reg)
	ctx := context.Background()

	if got := c.Check(ctx).Status; got != StatusHealthy {
		t.Errorf("empty registry status = %v, want healthy", got)
	}

	_ = reg.Execute(ctx, "GET channels/1", func(context.Context) error { return nil })
	_ = reg.Execute(ctx, "POST channels/2", func(context.Context) error { return errors.New("502") })

	r := c.Check(ctx)
	if r.Status != StatusDegraded {
		t.Fatalf("Status = %v, want degraded", r.Status)
	}
	open, _ := r.Details["open"].([]string)
	if len(open) != 1 || open[0] != "POST channels/2" {
		t.Errorf("Details[open] = %v, want [POST channels/2]", r.Details["open"])
	}

	reg.Reset("POST channels/2")
	if got := c.Check(ctx).Status; got != StatusHealthy {
		t.Errorf("after reset status = %v, want healthy", got)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingChecker(t *testing.T) {
	down := errors.New("database is locked")

	ok := NewPingChecker("store", pingFunc(func(context.Context) error { return nil }))
	if r := ok.Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", r.Status)
	}

	bad := NewPingChecker("store", pingFunc(func(context.Context) error { return down }))
	r := bad.Check(context.Background())
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, down) {
		t.Errorf("result = %+v, want unhealthy with ping error", r)
	}
}

func TestPingChecker_Timeout(t *testing.T) {
	c := NewPingChecker("store", pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	c.Timeout = 10 * time.Millisecond

	r := c.Check(context.Background())
	if !errors.Is(r.Error, context.DeadlineExceeded) {
		t.Errorf("Error = %v, want DeadlineExceeded", r.Error)
	}
}
