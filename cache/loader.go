package cache

import (
	"context"
	"time"
)

// FetchFunc produces the value for a cache miss.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Loader memoizes fetches in a MemoryCache under keys derived by a Keyer.
type Loader[V any] struct {
	cache *MemoryCache[V]
	keyer Keyer
	ttl   time.Duration
}

// NewLoader creates a loader over c. A nil keyer uses DefaultKeyer; ttl <= 0
// uses the cache policy's default TTL.
func NewLoader[V any](c *MemoryCache[V], keyer Keyer, ttl time.Duration) *Loader[V] {
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &Loader[V]{cache: c, keyer: keyer, ttl: ttl}
}

// Load returns the cached value for (namespace, input) or calls fetch and
// caches a successful result. Errors are not cached. When no key can be
// derived from input, fetch runs uncached.
func (l *Loader[V]) Load(ctx context.Context, namespace string, input any, fetch FetchFunc[V]) (V, error) {
	if !l.cache.Policy().ShouldCache() && l.ttl <= 0 {
		return fetch(ctx)
	}
	key, err := l.keyer.Key(namespace, input)
	if err != nil {
		return fetch(ctx)
	}
	return l.cache.GetOrSet(ctx, key, fetch, l.ttl)
}

// Forget drops the cached value for (namespace, input).
func (l *Loader[V]) Forget(ctx context.Context, namespace string, input any) error {
	key, err := l.keyer.Key(namespace, input)
	if err != nil {
		return err
	}
	return l.cache.Delete(ctx, key)
}
