package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonwraymond/steadycore/observe"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// Name labels the operation category in logs and metrics.
	// Default: "op"
	Name string

	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Attempt n waits BaseDelay·2^n.
	// Default: 100ms
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts, jitter included.
	// Default: 30s
	MaxDelay time.Duration

	// JitterFraction bounds the random jitter as a fraction of the exponential term.
	// Default: 0.1. A negative value disables jitter.
	JitterFraction float64

	// Classify decides whether an error is retried.
	// Default: AlwaysRetry.
	Classify Classifier

	// OnAttempt is called after every attempt, successful or not.
	OnAttempt func(Attempt)

	Logger      observe.Logger
	Instruments *observe.Instruments
}

// Attempt describes one iteration of a retry loop.
type Attempt struct {
	Index   int           // 0-based
	Err     error         // nil on success
	Class   Class         // meaningful only when Err != nil
	Delay   time.Duration // wait before the next attempt, 0 if none follows
	Latency time.Duration
}

// Retry runs operations with classification-aware exponential backoff.
// A Retry is immutable and safe to share between goroutines.
type Retry struct {
	config RetryConfig
	log    observe.Logger
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.Name == "" {
		config.Name = "op"
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	switch {
	case config.JitterFraction == 0:
		config.JitterFraction = 0.1
	case config.JitterFraction < 0:
		config.JitterFraction = 0
	}
	if config.Classify == nil {
		config.Classify = AlwaysRetry
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	return &Retry{
		config: config,
		log:    config.Logger.WithOp(observe.OpMeta{Component: "retry", Name: config.Name}),
	}
}

// Execute runs op until it succeeds, fails with a fatal error, or the attempt
// budget is spent. Fatal errors are returned unwrapped; exhaustion returns an
// *ExhaustedError wrapping the last error. Cancellation of ctx during a
// backoff wait returns ctx.Err().
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		start := time.Now()
		err := op(ctx)
		a := Attempt{Index: attempt, Err: err, Latency: time.Since(start)}

		if err == nil {
			r.observe(ctx, a)
			return nil
		}
		lastErr = err

		a.Class = r.config.Classify(err)
		if a.Class == Fatal {
			r.observe(ctx, a)
			return err
		}

		if attempt == r.config.MaxAttempts-1 {
			r.observe(ctx, a)
			break
		}

		a.Delay = r.Backoff(attempt)
		if hint, ok := RetryAfterHint(err); ok && hint > a.Delay {
			a.Delay = min(hint, r.config.MaxDelay)
		}
		r.observe(ctx, a)

		timer := time.NewTimer(a.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.log.Error(ctx, "retries exhausted",
		observe.F("attempts", r.config.MaxAttempts),
		observe.F("error", lastErr),
	)
	return &ExhaustedError{Attempts: r.config.MaxAttempts, Err: lastErr}
}

// Backoff returns the delay after the given 0-based attempt:
// min(BaseDelay·2^attempt + jitter, MaxDelay), jitter in [0, JitterFraction·BaseDelay·2^attempt).
func (r *Retry) Backoff(attempt int) time.Duration {
	exp := float64(r.config.BaseDelay) * math.Pow(2, float64(attempt))
	if exp >= float64(r.config.MaxDelay) {
		return r.config.MaxDelay
	}

	delay := exp
	if span := exp * r.config.JitterFraction; span >= 1 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += rand.Float64() * span
	}
	if delay > float64(r.config.MaxDelay) {
		return r.config.MaxDelay
	}
	return time.Duration(delay)
}

// Config returns the retry configuration with defaults applied.
func (r *Retry) Config() RetryConfig {
	return r.config
}

func (r *Retry) observe(ctx context.Context, a Attempt) {
	r.config.Instruments.RecordAttempt(ctx, r.config.Name, a.Index, a.Err)
	if r.config.OnAttempt != nil {
		r.config.OnAttempt(a)
	}

	fields := []observe.Field{
		observe.F("attempt", a.Index),
		observe.F("latency_ms", float64(a.Latency.Microseconds())/1000),
	}
	if a.Err == nil {
		r.log.Debug(ctx, "attempt succeeded", fields...)
		return
	}
	fields = append(fields,
		observe.F("error", a.Err),
		observe.F("class", a.Class.String()),
		observe.F("delay_ms", a.Delay.Milliseconds()),
	)
	r.log.Warn(ctx, "attempt failed", fields...)
}

// Do runs op through r and returns its value.
func Do[T any](ctx context.Context, r *Retry, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
