package cache

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jonwraymond/steadycore/observe"
)

// Eviction score weights.
const (
	accessWeight  = 0.7
	recencyWeight = 0.3
)

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
	seq       uint64 // insertion order, breaks createdAt ties

	// Updated by Get only.
	accessCount    atomic.Int64
	lastAccessedAt atomic.Int64 // unix nanos
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// score ranks entries for eviction; lowest goes first.
func (e *entry[V]) score(now time.Time) float64 {
	idle := now.Sub(time.Unix(0, e.lastAccessedAt.Load())).Seconds()
	return float64(e.accessCount.Load())*accessWeight - idle*recencyWeight
}

// Stats is a point-in-time snapshot of a MemoryCache.
type Stats struct {
	Name        string `json:"name"`
	Entries     int    `json:"entries"`
	MaxSize     int    `json:"max_size"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Expirations int64  `json:"expirations"`
	Evictions   int64  `json:"evictions"`
}

// MemoryCache is an in-memory Cache with lazy expiry, a background sweep and
// score-based eviction above Policy.MaxSize.
type MemoryCache[V any] struct {
	name        string
	policy      Policy
	entries     *xsync.MapOf[string, *entry[V]]
	now         func() time.Time
	log         observe.Logger
	instruments *observe.Instruments

	evictMu sync.Mutex
	seq     atomic.Uint64

	hits        atomic.Int64
	misses      atomic.Int64
	expirations atomic.Int64
	evictions   atomic.Int64

	closed    atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a MemoryCache.
type Option func(*options)

type options struct {
	name        string
	now         func() time.Time
	logger      observe.Logger
	instruments *observe.Instruments
}

// WithName names the cache in logs and metrics. Default: "cache".
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithInstruments records lookups and evictions.
func WithInstruments(in *observe.Instruments) Option {
	return func(o *options) { o.instruments = in }
}

// NewMemoryCache creates a cache with the given policy and starts its sweep
// when Policy.SweepInterval is positive.
func NewMemoryCache[V any](policy Policy, opts ...Option) *MemoryCache[V] {
	o := options{name: "cache", now: time.Now, logger: observe.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &MemoryCache[V]{
		name:        o.name,
		policy:      policy,
		entries:     xsync.NewMapOf[string, *entry[V]](),
		now:         o.now,
		log:         o.logger.WithOp(observe.OpMeta{Component: "cache", Target: o.name}),
		instruments: o.instruments,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	if policy.SweepInterval > 0 {
		go c.runSweeper()
	} else {
		close(c.done)
	}
	return c
}

// Name returns the cache name.
func (c *MemoryCache[V]) Name() string { return c.name }

// Policy returns the cache policy.
func (c *MemoryCache[V]) Policy() Policy { return c.policy }

// Get returns the value for key. An expired entry is removed and reported
// as a miss. A hit bumps the entry's access count and last access time.
func (c *MemoryCache[V]) Get(ctx context.Context, key string) (V, bool) {
	e, ok := c.lookup(key)
	c.instruments.RecordCacheLookup(ctx, c.name, ok)
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	e.accessCount.Add(1)
	e.lastAccessedAt.Store(c.now().UnixNano())
	return e.value, true
}

// Has reports whether key holds a live entry, without touching its stats.
func (c *MemoryCache[V]) Has(_ context.Context, key string) bool {
	_, ok := c.lookup(key)
	return ok
}

func (c *MemoryCache[V]) lookup(key string) (*entry[V], bool) {
	e, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		if c.removeEntry(key, e) {
			c.expirations.Add(1)
		}
		return nil, false
	}
	return e, true
}

// removeEntry deletes key only while it still maps to e, so a concurrent Set
// is never undone.
func (c *MemoryCache[V]) removeEntry(key string, e *entry[V]) bool {
	removed := false
	c.entries.Compute(key, func(cur *entry[V], loaded bool) (*entry[V], bool) {
		if loaded && cur == e {
			removed = true
			return nil, true
		}
		return cur, !loaded
	})
	return removed
}

// Set stores value under key. ttl <= 0 uses Policy.DefaultTTL; TTLs are
// clamped to Policy.MaxTTL. When the resulting TTL is zero nothing is stored.
//
// Adding a key to a full cache evicts the lowest-score entries before Set
// returns. The new entry competes on its own score, so a never-read entry
// may be the one evicted when every other entry has been read recently.
func (c *MemoryCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}

	now := c.now()
	e := &entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl), seq: c.seq.Add(1)}
	e.lastAccessedAt.Store(now.UnixNano())

	if _, replaced := c.entries.LoadAndStore(key, e); !replaced {
		if c.policy.MaxSize > 0 && c.entries.Size() > c.policy.MaxSize {
			c.evictOverflow(ctx)
		}
	}
	return nil
}

// GetOrSet returns the cached value for key, or calls factory and caches its
// result. Errors from factory are returned and not cached. An invalid key is
// rejected before factory runs. On a closed cache the factory result is
// returned uncached.
//
// Concurrent misses for the same key each call factory; the last Set wins.
func (c *MemoryCache[V]) GetOrSet(ctx context.Context, key string, factory func(ctx context.Context) (V, error), ttl time.Duration) (V, error) {
	if err := ValidateKey(key); err != nil {
		var zero V
		return zero, err
	}
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err := factory(ctx)
	if err != nil {
		return v, err
	}
	// Only ErrClosed remains possible here.
	_ = c.Set(ctx, key, v, ttl)
	return v, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *MemoryCache[V]) Delete(_ context.Context, key string) error {
	c.entries.Delete(key)
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *MemoryCache[V]) Len() int {
	return c.entries.Size()
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryCache[V]) Stats() Stats {
	return Stats{
		Name:        c.name,
		Entries:     c.entries.Size(),
		MaxSize:     c.policy.MaxSize,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Expirations: c.expirations.Load(),
		Evictions:   c.evictions.Load(),
	}
}

// Close stops the sweep and drops all entries. Later Sets return ErrClosed.
func (c *MemoryCache[V]) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		<-c.done
		c.entries.Clear()
	})
	return nil
}

func (c *MemoryCache[V]) runSweeper() {
	defer close(c.done)

	ticker := time.NewTicker(c.policy.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep(context.Background())
		}
	}
}

// sweep removes expired entries, then evicts down to MaxSize.
func (c *MemoryCache[V]) sweep(ctx context.Context) {
	now := c.now()
	expired := 0
	c.entries.Range(func(key string, e *entry[V]) bool {
		if e.expired(now) && c.removeEntry(key, e) {
			expired++
		}
		return true
	})
	if expired > 0 {
		c.expirations.Add(int64(expired))
		c.instruments.RecordCacheEviction(ctx, c.name, "expired", expired)
		c.log.Debug(ctx, "expired entries swept", observe.F("count", expired))
	}

	if c.policy.MaxSize > 0 && c.entries.Size() > c.policy.MaxSize {
		c.evictOverflow(ctx)
	}
}

type candidate[V any] struct {
	key   string
	e     *entry[V]
	score float64
}

// evictOverflow removes the lowest-score entries until the cache is back at
// MaxSize. Ties go to the older entry.
func (c *MemoryCache[V]) evictOverflow(ctx context.Context) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	over := c.entries.Size() - c.policy.MaxSize
	if over <= 0 {
		return
	}

	now := c.now()
	var cands []candidate[V]
	c.entries.Range(func(key string, e *entry[V]) bool {
		cands = append(cands, candidate[V]{key: key, e: e, score: e.score(now)})
		return true
	})
	slices.SortFunc(cands, func(a, b candidate[V]) int {
		switch {
		case a.score < b.score:
			return -1
		case a.score > b.score:
			return 1
		}
		if d := a.e.createdAt.Compare(b.e.createdAt); d != 0 {
			return d
		}
		return cmp.Compare(a.e.seq, b.e.seq)
	})

	evicted := 0
	for _, cand := range cands {
		if evicted >= over {
			break
		}
		if c.removeEntry(cand.key, cand.e) {
			evicted++
		}
	}

	c.evictions.Add(int64(evicted))
	c.instruments.RecordCacheEviction(ctx, c.name, "pressure", evicted)
	c.log.Debug(ctx, "evicted entries under pressure",
		observe.F("count", evicted),
		observe.F("max_size", c.policy.MaxSize),
	)
}

var _ Cache[[]byte] = (*MemoryCache[[]byte])(nil)
