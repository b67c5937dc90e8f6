package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker for a target is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrExhaustedRetries is matched by *ExhaustedError once the attempt budget is spent.
	ErrExhaustedRetries = errors.New("resilience: retries exhausted")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when a single attempt exceeds its time limit.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// Remote error kinds. Transports wrap their errors with these so ClassifyHTTP
// can tell them apart without knowing the transport.
var (
	// ErrTransient marks network failures and 5xx responses.
	ErrTransient = errors.New("resilience: transient remote failure")

	// ErrRateLimited marks HTTP 429 responses.
	ErrRateLimited = errors.New("resilience: rate limited by remote")

	// ErrClientError marks 4xx responses other than 429.
	ErrClientError = errors.New("resilience: remote rejected request")
)

// ExhaustedError wraps the last error of a retry loop that used every attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resilience: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrExhaustedRetries.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhaustedRetries }

// CircuitOpenError is returned when a call is rejected by an open breaker.
type CircuitOpenError struct {
	Target  string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("resilience: circuit breaker is open for %q, retry in %s", e.Target, e.RetryIn.Round(time.Millisecond))
	}
	return fmt.Sprintf("resilience: circuit breaker is open for %q", e.Target)
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }
