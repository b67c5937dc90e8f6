package cache

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry holds named caches of one value type, each created on first use
// with its configured policy.
type Registry[V any] struct {
	caches   *xsync.MapOf[string, *MemoryCache[V]]
	policies map[string]Policy
	fallback Policy
	opts     []Option
}

// NewRegistry creates a registry. policies maps cache names to policies;
// names without an entry use fallback. opts apply to every cache, after a
// WithName for the cache's own name.
func NewRegistry[V any](policies map[string]Policy, fallback Policy, opts ...Option) *Registry[V] {
	p := make(map[string]Policy, len(policies))
	for name, policy := range policies {
		p[name] = policy
	}
	return &Registry[V]{
		caches:   xsync.NewMapOf[string, *MemoryCache[V]](),
		policies: p,
		fallback: fallback,
		opts:     opts,
	}
}

// Cache returns the named cache, creating it if needed.
func (r *Registry[V]) Cache(name string) *MemoryCache[V] {
	c, _ := r.caches.LoadOrCompute(name, func() *MemoryCache[V] {
		policy, ok := r.policies[name]
		if !ok {
			policy = r.fallback
		}
		opts := append([]Option{WithName(name)}, r.opts...)
		return NewMemoryCache[V](policy, opts...)
	})
	return c
}

// Names returns the names of the caches created so far, sorted.
func (r *Registry[V]) Names() []string {
	var names []string
	r.caches.Range(func(name string, _ *MemoryCache[V]) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Stats returns the stats of every created cache, sorted by name.
func (r *Registry[V]) Stats() []Stats {
	var out []Stats
	for _, name := range r.Names() {
		if c, ok := r.caches.Load(name); ok {
			out = append(out, c.Stats())
		}
	}
	return out
}

// Close closes every cache in the registry.
func (r *Registry[V]) Close(_ context.Context) error {
	r.caches.Range(func(name string, c *MemoryCache[V]) bool {
		_ = c.Close()
		r.caches.Delete(name)
		return true
	})
	return nil
}
