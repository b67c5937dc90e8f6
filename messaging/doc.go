// Package messaging is a client for the remote messaging HTTP API.
//
// Every request goes through a resilience.Client, so calls are rate limited,
// retried with backoff on transient failures and short-circuited per route
// when a route keeps failing. HTTP sessions are borrowed from a pool.Pool,
// and idempotent reads are memoized in a cache.MemoryCache.
//
// Error responses surface as *StatusError, which matches
// resilience.ErrRateLimited, resilience.ErrTransient or
// resilience.ErrClientError with errors.Is and carries any Retry-After hint.
package messaging
