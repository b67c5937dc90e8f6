package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type conn struct {
	n       int64
	invalid atomic.Bool
}

type connFactory struct {
	seq       atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64
	failNext  atomic.Bool
	delay     time.Duration
}

var errDial = errors.New("dial failed")

func (f *connFactory) Create(ctx context.Context) (*conn, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failNext.CompareAndSwap(true, false) {
		return nil, errDial
	}
	f.created.Add(1)
	return &conn{n: f.seq.Add(1)}, nil
}

func (f *connFactory) Destroy(c *conn) error {
	f.destroyed.Add(1)
	return nil
}

func (f *connFactory) Validate(_ context.Context, c *conn) bool {
	return !c.invalid.Load()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, f *connFactory, cfg Config) *Pool[*conn] {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = -1
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = time.Second
	}
	p, err := New[*conn](f, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond, msg)
}
