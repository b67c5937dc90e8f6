package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_IdleTimeoutKeepsMin(t *testing.T) {
	clock := newFakeClock()
	f := &connFactory{}
	p := newTestPool(t, f, Config{Min: 1, Max: 4, IdleTimeout: time.Minute, Now: clock.Now})
	ctx := context.Background()

	var hs []*Handle[*conn]
	for i := 0; i < 3; i++ {
		h, err := p.Acquire(ctx)
		require.NoError(t, err)
		hs = append(hs, h)
	}
	for _, h := range hs {
		h.Release()
	}
	require.Equal(t, 3, p.Stats().Idle)

	clock.Advance(30 * time.Second)
	p.sweep(ctx)
	assert.Equal(t, 3, p.Stats().Size, "nothing is idle long enough yet")

	clock.Advance(time.Minute)
	p.sweep(ctx)
	st := p.Stats()
	assert.Equal(t, 1, st.Size)
	assert.Equal(t, 1, st.Idle)
	assert.Equal(t, int64(2), f.destroyed.Load())

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, hs[2].Value(), h.Value(), "the most recently used resource survives")
	h.Release()
}

func TestSweep_MaxLifetimeIgnoresMin(t *testing.T) {
	clock := newFakeClock()
	f := &connFactory{}
	p := newTestPool(t, f, Config{Min: 2, Max: 2, MaxLifetime: time.Hour, Now: clock.Now})
	require.NoError(t, p.Warmup(context.Background()))

	clock.Advance(2 * time.Hour)
	p.sweep(context.Background())

	st := p.Stats()
	assert.Equal(t, 2, st.Size, "sweep tops the pool back up to min")
	assert.Equal(t, int64(2), f.destroyed.Load())
	assert.Equal(t, int64(4), f.created.Load())
}

func TestSweep_TopsUpToMin(t *testing.T) {
	f := &connFactory{}
	p := newTestPool(t, f, Config{Min: 2, Max: 3})

	p.sweep(context.Background())
	assert.Equal(t, 2, p.Stats().Idle)

	f.failNext.Store(true)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h.Discard()
	h.Release()

	p.sweep(context.Background())
	assert.Equal(t, 1, p.Stats().Size, "failed top-up releases its reserved slots")
}

func TestSweeper_RunsInBackground(t *testing.T) {
	f := &connFactory{}
	p, err := New[*conn](f, Config{Min: 1, Max: 2, SweepInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	waitFor(t, func() bool { return p.Stats().Idle == 1 }, "sweeper did not top up")
	require.NoError(t, p.Close())
	assert.Equal(t, int64(1), f.destroyed.Load())
}
