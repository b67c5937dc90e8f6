package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/steadycore/observe"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is letting a trial call through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before a trial call.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of trial calls allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called with the breaker's target on every transition.
	// It runs under the breaker's lock and must not call back into it.
	OnStateChange func(target string, from, to State)

	// IsFailure determines if an error counts against the breaker.
	// Default: any non-nil error except context.Canceled.
	IsFailure func(err error) bool

	// Now is the clock. Default: time.Now
	Now func() time.Time

	Logger      observe.Logger
	Instruments *observe.Instruments
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = DefaultIsFailure
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	return c
}

// DefaultIsFailure counts every error except caller cancellation.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker guards a single remote target.
type CircuitBreaker struct {
	target string
	config CircuitBreakerConfig
	log    observe.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a breaker for target.
func NewCircuitBreaker(target string, config CircuitBreakerConfig) *CircuitBreaker {
	config = config.withDefaults()
	return &CircuitBreaker{
		target: target,
		config: config,
		log:    config.Logger.WithOp(observe.OpMeta{Component: "breaker", Target: target}),
		state:  StateClosed,
	}
}

// Target returns the key this breaker guards.
func (cb *CircuitBreaker) Target() string { return cb.target }

// Execute runs op through the breaker. The state is evaluated once per call.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	trial, err := cb.allow()
	if err != nil {
		return err
	}

	err = op(ctx)
	cb.record(err, trial)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset forces the breaker closed with no recorded failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.halfOpenCount = 0
	cb.setStateLocked(StateClosed)
}

// Check reports whether Execute would fail fast right now, without taking a
// half-open trial slot. The error matches ErrCircuitOpen.
func (cb *CircuitBreaker) Check() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejectLocked()
}

// allow reports whether a call may proceed and whether it is a half-open trial.
func (cb *CircuitBreaker) allow() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err := cb.rejectLocked(); err != nil {
		return false, err
	}
	if cb.state == StateHalfOpen {
		cb.halfOpenCount++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) rejectLocked() error {
	switch cb.currentStateLocked() {
	case StateOpen:
		retryIn := cb.config.ResetTimeout - cb.config.Now().Sub(cb.lastFailure)
		return &CircuitOpenError{Target: cb.target, RetryIn: retryIn}
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return &CircuitOpenError{Target: cb.target}
		}
	}
	return nil
}

// record applies the outcome of a call. Results of calls that were not the
// half-open trial are ignored unless the breaker is closed.
func (cb *CircuitBreaker) record(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := cb.config.IsFailure(err)

	switch cb.state {
	case StateClosed:
		switch {
		case failed:
			cb.failures++
			cb.lastFailure = cb.config.Now()
			if cb.failures >= cb.config.MaxFailures {
				cb.setStateLocked(StateOpen)
			}
		case err == nil:
			cb.failures = 0
		}

	case StateHalfOpen:
		if !trial {
			return
		}
		switch {
		case failed:
			cb.failures++
			cb.lastFailure = cb.config.Now()
			cb.setStateLocked(StateOpen)
		case err == nil:
			cb.failures = 0
			cb.setStateLocked(StateClosed)
		default:
			// Not counted; free the trial slot for another caller.
			cb.halfOpenCount--
		}
	}
}

// recordFailure is used when the breaker is created lazily after a failed call.
func (cb *CircuitBreaker) recordFailure(err error) {
	cb.record(err, false)
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.setStateLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) setStateLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateHalfOpen {
		cb.halfOpenCount = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.target, from, to)
	}
	cb.config.Instruments.RecordBreakerTransition(context.Background(), cb.target, from.String(), to.String())

	level := cb.log.Info
	if to == StateOpen {
		level = cb.log.Warn
	}
	level(context.Background(), "circuit state changed",
		observe.F("from", from.String()),
		observe.F("to", to.String()),
		observe.F("failures", cb.failures),
	)
}

// Snapshot returns the breaker's current state.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerSnapshot{
		Target:      cb.target,
		State:       cb.currentStateLocked(),
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
	}
}

// BreakerSnapshot is a point-in-time view of a circuit breaker.
type BreakerSnapshot struct {
	Target      string
	State       State
	Failures    int
	LastFailure time.Time
}
