package resilience

import (
	"context"
	"time"

	"github.com/jonwraymond/steadycore/observe"
)

// Client wraps outbound calls with retry, backoff and a per-target circuit breaker.
//
// The layers run in this order, outermost first:
//  1. Rate limiter (if configured) - limits request rate
//  2. Bulkhead (if configured) - limits concurrency
//  3. Circuit breaker - evaluated once per Call for the target key
//  4. Retry - the full attempt budget runs inside one breaker evaluation
//  5. Timeout (if configured) - bounds each attempt
type Client struct {
	retry       *Retry
	breakers    *BreakerRegistry
	rateLimiter *RateLimiter
	bulkhead    *Bulkhead
	timeout     *Timeout
	tracer      observe.Tracer
	instruments *observe.Instruments
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a Client. Without options it retries with ClassifyHTTP and
// uses a breaker registry with default settings.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry == nil {
		c.retry = NewRetry(RetryConfig{Name: "remote", Classify: ClassifyHTTP})
	}
	if c.breakers == nil {
		c.breakers = NewBreakerRegistry(CircuitBreakerConfig{})
	}
	if c.tracer == nil {
		c.tracer = observe.NopTracer()
	}
	return c
}

// WithRetry sets the retry policy.
func WithRetry(r *Retry) ClientOption {
	return func(c *Client) {
		c.retry = r
	}
}

// WithBreakers sets the breaker registry.
func WithBreakers(r *BreakerRegistry) ClientOption {
	return func(c *Client) {
		c.breakers = r
	}
}

// WithRateLimiter adds rate limiting. Errors carrying a Retry-After hint
// penalize the limiter for the hinted duration.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation.
func WithBulkhead(b *Bulkhead) ClientOption {
	return func(c *Client) {
		c.bulkhead = b
	}
}

// WithTimeout bounds each attempt to d.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = NewTimeout(TimeoutConfig{Timeout: d})
	}
}

// WithTracer records one span per Call.
func WithTracer(t observe.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithInstruments records call counts and durations.
func WithInstruments(in *observe.Instruments) ClientOption {
	return func(c *Client) {
		c.instruments = in
	}
}

// Breakers returns the client's breaker registry.
func (c *Client) Breakers() *BreakerRegistry {
	return c.breakers
}

// Call runs op for target through every configured layer.
//
// It fails fast with an error matching ErrCircuitOpen when the target's
// breaker is open, and with one matching ErrExhaustedRetries when every
// attempt failed with a retryable error.
func (c *Client) Call(ctx context.Context, target string, op func(context.Context) error) error {
	start := time.Now()
	ctx, span := c.tracer.StartSpan(ctx, observe.OpMeta{Component: "remote", Name: "call", Target: target})

	err := c.chain(target, op)(ctx)

	c.tracer.EndSpan(span, err)
	c.instruments.RecordRemoteCall(ctx, target, time.Since(start), err)
	return err
}

func (c *Client) chain(target string, op func(context.Context) error) func(context.Context) error {
	execute := op

	if c.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			err := inner(ctx)
			if d, ok := RetryAfterHint(err); ok {
				c.rateLimiter.Penalize(d)
			}
			return err
		}
	}

	if c.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return c.timeout.Execute(ctx, inner)
		}
	}

	{
		inner := execute
		execute = func(ctx context.Context) error {
			return c.retry.Execute(ctx, inner)
		}
	}

	{
		inner := execute
		execute = func(ctx context.Context) error {
			return c.breakers.Execute(ctx, target, inner)
		}
	}

	if c.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return c.bulkhead.Execute(ctx, inner)
		}
	}

	if c.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return c.rateLimiter.Execute(ctx, inner)
		}
	}

	return execute
}

// CallValue runs op through c.Call and returns its value.
func CallValue[T any](ctx context.Context, c *Client, target string, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := c.Call(ctx, target, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
