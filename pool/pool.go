package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/steadycore/observe"
)

// pooled is the bookkeeping record for one live resource.
type pooled[T any] struct {
	id         string
	value      T
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	inUse      bool
}

// waiter is a queued acquisition. ch is buffered so a hand-off never blocks
// the releasing goroutine.
type waiter[T any] struct {
	ch chan handoff[T]
}

type handoff[T any] struct {
	r   *pooled[T]
	err error
}

// Pool is a bounded pool of resources of type T. It is safe for concurrent use.
type Pool[T any] struct {
	cfg       Config
	factory   Factory[T]
	validator Validator[T]
	log       observe.Logger

	mu      sync.Mutex
	idle    []*pooled[T] // LIFO: top of stack is the most recently released
	waiters []*waiter[T] // FIFO
	size    int          // live resources plus creations in flight
	closed  bool
	stats   counters

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type counters struct {
	acquired  int64
	created   int64
	destroyed int64
	timeouts  int64
}

// New creates a pool and starts its background sweep.
// New does not create resources; call Warmup to pre-fill Min.
func New[T any](factory Factory[T], cfg Config) (*Pool[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: factory is required", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[T]{
		cfg:     cfg,
		factory: factory,
		log:     cfg.Logger.WithOp(observe.OpMeta{Component: "pool", Target: cfg.Name}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if v, ok := factory.(Validator[T]); ok {
		p.validator = v
	}

	if cfg.SweepInterval > 0 {
		go p.runSweeper()
	} else {
		close(p.done)
	}
	return p, nil
}

// Name returns the configured pool name.
func (p *Pool[T]) Name() string { return p.cfg.Name }

// Acquire borrows a resource, waiting up to Config.AcquireTimeout or until
// ctx is done, whichever comes first.
func (p *Pool[T]) Acquire(ctx context.Context) (*Handle[T], error) {
	return p.AcquireTimeout(ctx, p.cfg.AcquireTimeout)
}

// AcquireTimeout is Acquire with an explicit timeout.
//
// When the timeout fires first the error wraps ErrPoolExhausted; when ctx is
// done first, ctx.Err() is returned.
func (p *Pool[T]) AcquireTimeout(ctx context.Context, timeout time.Duration) (*Handle[T], error) {
	start := time.Now()
	h, err := p.acquire(ctx, timeout)
	p.cfg.Instruments.RecordPoolAcquire(ctx, p.cfg.Name, time.Since(start), err)
	return h, err
}

func (p *Pool[T]) acquire(ctx context.Context, timeout time.Duration) (*Handle[T], error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			r := p.idle[n-1]
			p.idle[n-1] = nil
			p.idle = p.idle[:n-1]
			r.inUse = true
			p.mu.Unlock()

			if reason := p.unusable(waitCtx, r, p.cfg.TestOnBorrow); reason != "" {
				p.discard(r, reason)
				continue
			}
			return p.checkout(r), nil
		}

		if p.size < p.cfg.Max {
			p.size++
			p.mu.Unlock()

			r, err := p.create(waitCtx)
			if err != nil {
				p.mu.Lock()
				p.size--
				p.replenishLocked()
				p.mu.Unlock()
				return nil, fmt.Errorf("pool %s: create: %w", p.cfg.Name, err)
			}
			r.inUse = true
			return p.checkout(r), nil
		}

		w := &waiter[T]{ch: make(chan handoff[T], 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case res := <-w.ch:
			if res.err != nil {
				return nil, res.err
			}
			return p.checkout(res.r), nil

		case <-waitCtx.Done():
			p.mu.Lock()
			queued := p.removeWaiterLocked(w)
			if !queued {
				p.mu.Unlock()
				// A hand-off raced the timeout; give the resource back.
				if res := <-w.ch; res.r != nil {
					p.put(res.r)
				}
			} else {
				p.stats.timeouts++
				p.mu.Unlock()
			}

			if err := ctx.Err(); err != nil {
				return nil, err
			}
			waited := time.Since(start).Round(time.Millisecond)
			p.log.Warn(ctx, "acquire timed out",
				observe.F("waited_ms", waited.Milliseconds()),
				observe.F("max", p.cfg.Max),
			)
			return nil, fmt.Errorf("%w: pool %s, waited %s", ErrPoolExhausted, p.cfg.Name, waited)
		}
	}
}

func (p *Pool[T]) removeWaiterLocked(w *waiter[T]) bool {
	for i, q := range p.waiters {
		if q == w {
			copy(p.waiters[i:], p.waiters[i+1:])
			p.waiters[len(p.waiters)-1] = nil
			p.waiters = p.waiters[:len(p.waiters)-1]
			return true
		}
	}
	return false
}

func (p *Pool[T]) checkout(r *pooled[T]) *Handle[T] {
	p.mu.Lock()
	r.useCount++
	r.lastUsedAt = p.cfg.Now()
	p.stats.acquired++
	p.mu.Unlock()
	return &Handle[T]{pool: p, r: r}
}

// Release returns a borrowed resource to the pool. Releasing a handle twice
// is a no-op.
func (p *Pool[T]) Release(h *Handle[T]) {
	if h == nil || h.pool != p || !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.broken.Load() {
		p.discard(h.r, "discarded")
		return
	}
	if reason := p.unusable(context.Background(), h.r, p.cfg.TestOnReturn); reason != "" {
		p.discard(h.r, reason)
		return
	}
	p.put(h.r)
}

// unusable reports why r must not be reused, or "" when it may.
func (p *Pool[T]) unusable(ctx context.Context, r *pooled[T], validate bool) string {
	if p.cfg.MaxLifetime > 0 && p.cfg.Now().Sub(r.createdAt) > p.cfg.MaxLifetime {
		return "expired"
	}
	if validate && p.validator != nil && !p.validator.Validate(ctx, r.value) {
		return "invalid"
	}
	return ""
}

// put hands r to the head waiter, or pushes it on the idle stack.
// On a closed pool r is destroyed.
func (p *Pool[T]) put(r *pooled[T]) {
	p.mu.Lock()
	if p.closed {
		p.size--
		p.mu.Unlock()
		p.destroy(r, "closed")
		return
	}

	r.lastUsedAt = p.cfg.Now()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters[0] = nil
		p.waiters = p.waiters[1:]
		r.inUse = true
		w.ch <- handoff[T]{r: r}
		p.mu.Unlock()
		return
	}

	r.inUse = false
	p.idle = append(p.idle, r)
	p.mu.Unlock()
}

// discard destroys r and, if callers are waiting, starts a replacement.
func (p *Pool[T]) discard(r *pooled[T], reason string) {
	p.mu.Lock()
	p.size--
	p.replenishLocked()
	p.mu.Unlock()
	p.destroy(r, reason)
}

// replenishLocked starts one background creation when callers are waiting
// and there is room. The new resource goes to the head waiter via put.
func (p *Pool[T]) replenishLocked() {
	if p.closed || len(p.waiters) == 0 || p.size >= p.cfg.Max {
		return
	}
	p.size++
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
		defer cancel()
		r, err := p.create(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return
		}
		p.put(r)
	}()
}

func (p *Pool[T]) create(ctx context.Context) (*pooled[T], error) {
	v, err := p.factory.Create(ctx)
	if err != nil {
		p.log.Warn(ctx, "resource create failed", observe.F("error", err))
		return nil, err
	}
	now := p.cfg.Now()
	r := &pooled[T]{
		id:         uuid.NewString(),
		value:      v,
		createdAt:  now,
		lastUsedAt: now,
	}

	p.mu.Lock()
	p.stats.created++
	p.mu.Unlock()

	p.log.Debug(ctx, "resource created", observe.F("resource_id", r.id))
	return r, nil
}

func (p *Pool[T]) destroy(r *pooled[T], reason string) {
	err := p.factory.Destroy(r.value)

	p.mu.Lock()
	p.stats.destroyed++
	p.mu.Unlock()

	fields := []observe.Field{
		observe.F("resource_id", r.id),
		observe.F("reason", reason),
		observe.F("uses", r.useCount),
	}
	if err != nil {
		p.log.Warn(context.Background(), "resource destroy failed", append(fields, observe.F("error", err))...)
		return
	}
	p.log.Debug(context.Background(), "resource destroyed", fields...)
}

// Warmup creates resources until the pool holds at least Min.
func (p *Pool[T]) Warmup(ctx context.Context) error {
	var errs []error
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		if p.size >= p.cfg.Min {
			p.mu.Unlock()
			return errors.Join(errs...)
		}
		p.size++
		p.mu.Unlock()

		r, err := p.create(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			errs = append(errs, err)
			if ctx.Err() != nil || len(errs) >= p.cfg.Min {
				return fmt.Errorf("pool %s: warmup: %w", p.cfg.Name, errors.Join(errs...))
			}
			continue
		}
		p.put(r)
	}
}

// Close rejects waiting callers, destroys idle resources and stops the
// sweep. Resources still borrowed are destroyed on release. Close is
// idempotent.
func (p *Pool[T]) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		waiters := p.waiters
		p.waiters = nil
		idle := p.idle
		p.idle = nil
		p.size -= len(idle)
		p.mu.Unlock()

		for _, w := range waiters {
			w.ch <- handoff[T]{err: ErrPoolClosed}
		}

		close(p.stop)
		<-p.done

		for _, r := range idle {
			p.destroy(r, "closed")
		}
		p.log.Info(context.Background(), "pool closed",
			observe.F("destroyed_idle", len(idle)),
			observe.F("rejected_waiters", len(waiters)),
		)
	})
	return nil
}

// Handle is a borrowed resource. It must be released exactly once, usually
// with defer.
type Handle[T any] struct {
	pool     *Pool[T]
	r        *pooled[T]
	released atomic.Bool
	broken   atomic.Bool
}

// Value returns the borrowed resource.
func (h *Handle[T]) Value() T { return h.r.value }

// ID returns the resource's pool-assigned identifier.
func (h *Handle[T]) ID() string { return h.r.id }

// Release returns the resource to its pool.
func (h *Handle[T]) Release() { h.pool.Release(h) }

// Discard marks the resource as broken so Release destroys it instead of
// returning it to the pool.
func (h *Handle[T]) Discard() { h.broken.Store(true) }

// WithResource borrows a resource, runs fn with it and releases it, also
// when fn panics.
func WithResource[T any](ctx context.Context, p *Pool[T], fn func(ctx context.Context, resource T) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(ctx, h.Value())
}

// WithValue is WithResource for functions that produce a value.
func WithValue[T, R any](ctx context.Context, p *Pool[T], fn func(ctx context.Context, resource T) (R, error)) (R, error) {
	var out R
	err := WithResource(ctx, p, func(ctx context.Context, resource T) error {
		var err error
		out, err = fn(ctx, resource)
		return err
	})
	return out, err
}
