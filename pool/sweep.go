package pool

import (
	"context"
	"time"

	"github.com/jonwraymond/steadycore/observe"
)

func (p *Pool[T]) runSweeper() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep(context.Background())
		}
	}
}

// sweep destroys idle resources past IdleTimeout (keeping at least Min
// resources) or MaxLifetime, then creates resources up to Min.
func (p *Pool[T]) sweep(ctx context.Context) {
	now := p.cfg.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var doomed []*pooled[T]
	var reasons []string
	kept := p.idle[:0]
	// Bottom of the stack holds the least recently used resources.
	for _, r := range p.idle {
		switch {
		case p.cfg.MaxLifetime > 0 && now.Sub(r.createdAt) > p.cfg.MaxLifetime:
			doomed = append(doomed, r)
			reasons = append(reasons, "expired")
		case p.cfg.IdleTimeout > 0 && now.Sub(r.lastUsedAt) > p.cfg.IdleTimeout && p.size-len(doomed) > p.cfg.Min:
			doomed = append(doomed, r)
			reasons = append(reasons, "idle")
		default:
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = kept
	p.size -= len(doomed)

	missing := p.cfg.Min - p.size
	if missing > 0 {
		p.size += missing
	}
	p.mu.Unlock()

	for i, r := range doomed {
		p.destroy(r, reasons[i])
	}

	created := 0
	for i := 0; i < missing; i++ {
		r, err := p.create(ctx)
		if err != nil {
			p.mu.Lock()
			p.size -= missing - i
			p.mu.Unlock()
			break
		}
		created++
		p.put(r)
	}

	if len(doomed) > 0 || created > 0 {
		p.log.Debug(ctx, "sweep finished",
			observe.F("destroyed", len(doomed)),
			observe.F("created", created),
		)
	}
}
