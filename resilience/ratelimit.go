package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of operations allowed per second.
	// Default: 30
	Rate float64

	// Burst is the maximum burst size.
	// Default: 1
	Burst int

	// WaitOnLimit waits for a token instead of returning an error.
	// Default: false
	WaitOnLimit bool

	// MaxWait is the maximum time to wait for a token.
	// Default: 1 second
	MaxWait time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// RateLimiter is a token bucket that can be paused by the remote side.
type RateLimiter struct {
	config RateLimiterConfig

	mu           sync.Mutex
	tokens       float64
	lastRefresh  time.Time
	blockedUntil time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 30
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateLimiter{
		config:      config,
		tokens:      float64(config.Burst),
		lastRefresh: config.Now(),
	}
}

// Allow checks if a request is allowed under the rate limit.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN checks if n requests are allowed and takes the tokens if so.
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	_, ok := rl.takeLocked(n)
	return ok
}

// takeLocked takes n tokens or reports how long until they are available.
func (rl *RateLimiter) takeLocked(n int) (time.Duration, bool) {
	now := rl.config.Now()
	if now.Before(rl.blockedUntil) {
		return rl.blockedUntil.Sub(now), false
	}

	rl.refillLocked(now)
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return 0, true
	}

	missing := float64(n) - rl.tokens
	return time.Duration(missing / rl.config.Rate * float64(time.Second)), false
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN blocks until n tokens are available, at most MaxWait.
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	deadline := rl.config.Now().Add(rl.config.MaxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rl.mu.Lock()
		wait, ok := rl.takeLocked(n)
		rl.mu.Unlock()
		if ok {
			return nil
		}

		remaining := deadline.Sub(rl.config.Now())
		if remaining <= 0 || wait > remaining {
			return ErrRateLimitExceeded
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Penalize blocks the limiter for d, e.g. on a 429 with Retry-After.
// Overlapping penalties keep the later deadline.
func (rl *RateLimiter) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	until := rl.config.Now().Add(d)
	if until.After(rl.blockedUntil) {
		rl.blockedUntil = until
	}
	rl.tokens = 0
}

// Execute runs the operation if allowed by rate limit.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.config.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}

	return op(ctx)
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefresh)
	if elapsed <= 0 {
		return
	}
	rl.lastRefresh = now

	rl.tokens += elapsed.Seconds() * rl.config.Rate
	if rl.tokens > float64(rl.config.Burst) {
		rl.tokens = float64(rl.config.Burst)
	}
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked(rl.config.Now())
	return rl.tokens
}

// Reset restores full capacity and clears any penalty.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = float64(rl.config.Burst)
	rl.lastRefresh = rl.config.Now()
	rl.blockedUntil = time.Time{}
}
