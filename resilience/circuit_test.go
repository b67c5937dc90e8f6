package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errRemote = errors.New("503 service unavailable")

func failOp(context.Context) error { return errRemote }
func okOp(context.Context) error   { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("chat:1", CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.config.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cb.config.MaxFailures)
	}
	if cb.config.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cb.config.ResetTimeout)
	}
	if cb.config.HalfOpenMaxRequests != 1 {
		t.Errorf("HalfOpenMaxRequests = %d, want 1", cb.config.HalfOpenMaxRequests)
	}
	if cb.Target() != "chat:1" {
		t.Errorf("Target() = %q", cb.Target())
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("chat:1", CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Minute,
		Now:          clock.Now,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, failOp)
		if cb.State() != StateClosed {
			t.Fatalf("after %d failures state = %v, want closed", i+1, cb.State())
		}
	}
	_ = cb.Execute(ctx, failOp)
	if cb.State() != StateOpen {
		t.Fatalf("after 3 failures state = %v, want open", cb.State())
	}

	// Open: fail fast without invoking op.
	err := cb.Execute(ctx, func(context.Context) error {
		t.Error("op called while open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() while open = %v, want ErrCircuitOpen", err)
	}
	var open *CircuitOpenError
	if !errors.As(err, &open) || open.RetryIn != time.Minute {
		t.Errorf("CircuitOpenError = %+v, want RetryIn 1m", open)
	}

	clock.Advance(59 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("before reset timeout state = %v, want open", cb.State())
	}

	clock.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("after reset timeout state = %v, want half-open", cb.State())
	}

	if err := cb.Execute(ctx, okOp); err != nil {
		t.Fatalf("trial call = %v", err)
	}
	snap := cb.Snapshot()
	if snap.State != StateClosed || snap.Failures != 0 {
		t.Errorf("after successful trial = %+v, want closed with 0 failures", snap)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("chat:1", CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Second,
		Now:          clock.Now,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failOp)
	clock.Advance(10 * time.Second)

	_ = cb.Execute(ctx, failOp)
	if cb.State() != StateOpen {
		t.Fatalf("after failed trial state = %v, want open", cb.State())
	}

	// The open window restarts from the trial failure.
	clock.Advance(9 * time.Second)
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open until a full reset timeout passes", cb.State())
	}
}

func TestCircuitBreaker_CheckDoesNotTakeTrial(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("chat:1", CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          clock.Now,
	})
	ctx := context.Background()

	if err := cb.Check(); err != nil {
		t.Fatalf("Check() on closed = %v, want nil", err)
	}
	_ = cb.Execute(ctx, failOp)

	var coe *CircuitOpenError
	if err := cb.Check(); !errors.As(err, &coe) || coe.Target != "chat:1" {
		t.Fatalf("Check() on open = %v, want *CircuitOpenError for chat:1", err)
	}

	clock.Advance(time.Second)
	for i := 0; i < 3; i++ {
		if err := cb.Check(); err != nil {
			t.Fatalf("Check() on half-open = %v, want nil", err)
		}
	}
	if err := cb.Execute(ctx, okOp); err != nil {
		t.Errorf("trial after Check() = %v, want nil", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAllowsExactlyOneTrial(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("chat:1", CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          clock.Now,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failOp)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var trialCalls atomic.Int32

	go func() {
		_ = cb.Execute(ctx, func(context.Context) error {
			trialCalls.Add(1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	const concurrent = 10
	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Execute(ctx, func(context.Context) error {
				trialCalls.Add(1)
				return nil
			})
			if errors.Is(err, ErrCircuitOpen) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)

	if trialCalls.Load() != 1 {
		t.Errorf("trial calls = %d, want 1", trialCalls.Load())
	}
	if rejected.Load() != concurrent {
		t.Errorf("rejected = %d, want %d", rejected.Load(), concurrent)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("chat:1", CircuitBreakerConfig{MaxFailures: 3})
	ctx := context.Background()

	_ = cb.Execute(ctx, failOp)
	_ = cb.Execute(ctx, failOp)
	_ = cb.Execute(ctx, okOp)
	if got := cb.Snapshot().Failures; got != 0 {
		t.Fatalf("failures after success = %d, want 0", got)
	}

	_ = cb.Execute(ctx, failOp)
	_ = cb.Execute(ctx, failOp)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (failures are consecutive)", cb.State())
	}
}

func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("chat:1", CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          clock.Now,
	})
	ctx := context.Background()
	canceled := func(context.Context) error { return context.Canceled }

	_ = cb.Execute(ctx, canceled)
	if cb.State() != StateClosed {
		t.Fatalf("state after cancellation = %v, want closed", cb.State())
	}

	_ = cb.Execute(ctx, failOp)
	clock.Advance(time.Second)

	// A cancelled trial frees the slot instead of deciding the state.
	_ = cb.Execute(ctx, canceled)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after cancelled trial = %v, want half-open", cb.State())
	}
	if err := cb.Execute(ctx, okOp); err != nil {
		t.Fatalf("second trial = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker("chat:9", CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          clock.Now,
		OnStateChange: func(target string, from, to State) {
			transitions = append(transitions, target+":"+from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failOp)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, okOp)

	want := []string{
		"chat:9:closed->open",
		"chat:9:open->half-open",
		"chat:9:half-open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("chat:1", CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(context.Background(), failOp)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state after Reset = %v, want closed", cb.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
