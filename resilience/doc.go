// Package resilience keeps transient failures of the store and of remote APIs
// from surfacing as user-visible errors.
//
// # Patterns
//
//   - Retry: runs an operation up to MaxAttempts times, waiting
//     min(BaseDelay·2^n + jitter, MaxDelay) after the n-th failed attempt.
//     A Classifier decides which errors are retried; fatal errors propagate
//     immediately and exhaustion yields an *ExhaustedError.
//
//   - Circuit Breaker: stops calling a target after MaxFailures consecutive
//     failed calls, lets exactly one trial call through after ResetTimeout,
//     and closes again when the trial succeeds.
//
//   - BreakerRegistry: one breaker per target key, created on the first
//     failure for that key.
//
//   - Rate Limiter, Bulkhead, Timeout: optional outer and inner layers.
//
// # Client
//
// Client composes the patterns for outbound calls. The breaker is consulted
// once per Call and the retry loop runs underneath it, so one logical call
// spends its whole retry budget before it counts as a single breaker failure:
//
//	client := resilience.NewClient(
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts: 3,
//	        BaseDelay:   500 * time.Millisecond,
//	        MaxDelay:    10 * time.Second,
//	        Classify:    resilience.ClassifyHTTP,
//	    })),
//	    resilience.WithBreakers(resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{
//	        MaxFailures:  5,
//	        ResetTimeout: time.Minute,
//	    })),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	err := client.Call(ctx, "chat:42", func(ctx context.Context) error {
//	    return sendMessage(ctx, 42, "hello")
//	})
//	if errors.Is(err, resilience.ErrCircuitOpen) {
//	    // target is being skipped for now
//	}
package resilience
