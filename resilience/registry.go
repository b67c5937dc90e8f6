package resilience

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// BreakerRegistry holds one circuit breaker per target key.
//
// Breakers are created lazily on the first failure for a target and live as
// long as the registry. A target without a breaker is treated as closed.
type BreakerRegistry struct {
	config   CircuitBreakerConfig
	breakers *xsync.MapOf[string, *CircuitBreaker]
}

// NewBreakerRegistry creates a registry whose breakers share config.
func NewBreakerRegistry(config CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config.withDefaults(),
		breakers: xsync.NewMapOf[string, *CircuitBreaker](),
	}
}

// Lookup returns the breaker for target if one exists.
func (r *BreakerRegistry) Lookup(target string) (*CircuitBreaker, bool) {
	return r.breakers.Load(target)
}

// Get returns the breaker for target, creating it if needed.
func (r *BreakerRegistry) Get(target string) *CircuitBreaker {
	cb, _ := r.breakers.LoadOrCompute(target, func() *CircuitBreaker {
		return NewCircuitBreaker(target, r.config)
	})
	return cb
}

// State returns the state for target, StateClosed if it has no breaker.
func (r *BreakerRegistry) State(target string) State {
	if cb, ok := r.breakers.Load(target); ok {
		return cb.State()
	}
	return StateClosed
}

// Check returns an error matching ErrCircuitOpen when a call to target would
// fail fast. Targets without a breaker pass.
func (r *BreakerRegistry) Check(target string) error {
	if cb, ok := r.breakers.Load(target); ok {
		return cb.Check()
	}
	return nil
}

// Execute runs op guarded by the breaker for target.
func (r *BreakerRegistry) Execute(ctx context.Context, target string, op func(context.Context) error) error {
	cb, ok := r.breakers.Load(target)
	if ok {
		return cb.Execute(ctx, op)
	}

	err := op(ctx)
	if r.config.IsFailure(err) {
		r.Get(target).recordFailure(err)
	}
	return err
}

// Reset closes the breaker for target, if any.
func (r *BreakerRegistry) Reset(target string) {
	if cb, ok := r.breakers.Load(target); ok {
		cb.Reset()
	}
}

// Len returns the number of targets with a breaker.
func (r *BreakerRegistry) Len() int {
	return r.breakers.Size()
}

// Snapshot returns every breaker's state ordered by target.
func (r *BreakerRegistry) Snapshot() []BreakerSnapshot {
	out := make([]BreakerSnapshot, 0, r.breakers.Size())
	r.breakers.Range(func(_ string, cb *CircuitBreaker) bool {
		out = append(out, cb.Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Open returns the targets whose breaker is currently open.
func (r *BreakerRegistry) Open() []string {
	var open []string
	for _, s := range r.Snapshot() {
		if s.State == StateOpen {
			open = append(open, s.Target)
		}
	}
	return open
}
