package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/steadycore/pool"
)

// PoolStatser is implemented by *pool.Pool.
type PoolStatser interface {
	Stats() pool.Stats
}

// PoolChecker reports a resource pool as degraded when it is close to
// saturation and unhealthy once closed.
type PoolChecker struct {
	name string
	pool PoolStatser

	// DegradedAt is the in-use fraction of Max at which the pool counts as
	// degraded. Default: 0.9
	DegradedAt float64
}

// NewPoolChecker creates a checker named "pool:<stats name>".
func NewPoolChecker(p PoolStatser) *PoolChecker {
	return &PoolChecker{name: "pool:" + p.Stats().Name, pool: p, DegradedAt: 0.9}
}

// Name returns the name of this checker.
func (c *PoolChecker) Name() string { return c.name }

// Check inspects a stats snapshot.
func (c *PoolChecker) Check(context.Context) Result {
	s := c.pool.Stats()
	details := map[string]any{
		"size":     s.Size,
		"idle":     s.Idle,
		"in_use":   s.InUse,
		"waiting":  s.Waiting,
		"max":      s.Max,
		"timeouts": s.Timeouts,
	}

	if s.Closed {
		return Unhealthy("pool closed", pool.ErrPoolClosed).WithDetails(details)
	}
	if s.Max > 0 && s.Waiting > 0 && s.InUse >= s.Max {
		return Degraded(fmt.Sprintf("saturated with %d waiting", s.Waiting)).WithDetails(details)
	}
	if s.Max > 0 && float64(s.InUse)/float64(s.Max) >= c.DegradedAt {
		return Degraded(fmt.Sprintf("%d of %d in use", s.InUse, s.Max)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d of %d in use", s.InUse, s.Max)).WithDetails(details)
}

// BreakerLister is implemented by *resilience.BreakerRegistry.
type BreakerLister interface {
	Open() []string
	Len() int
}

// BreakerChecker reports remote targets whose circuit is open. Open circuits
// make the service degraded, not unhealthy: other targets keep working.
type BreakerChecker struct {
	breakers BreakerLister
}

// NewBreakerChecker creates a checker named "breakers".
func NewBreakerChecker(b BreakerLister) *BreakerChecker {
	return &BreakerChecker{breakers: b}
}

// Name returns the name of this checker.
func (c *BreakerChecker) Name() string { return "breakers" }

// Check lists the open targets.
func (c *BreakerChecker) Check(context.Context) Result {
	open := c.breakers.Open()
	details := map[string]any{
		"tracked": c.breakers.Len(),
		"open":    open,
	}
	if len(open) > 0 {
		return Degraded(fmt.Sprintf("%d circuit(s) open", len(open))).WithDetails(details)
	}
	return Healthy("all circuits closed").WithDetails(details)
}

// Pinger is implemented by *storage.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker is unhealthy when Ping fails or exceeds Timeout.
type PingChecker struct {
	name   string
	target Pinger

	// Timeout bounds a single ping. Default: 2 seconds
	Timeout time.Duration
}

// NewPingChecker creates a checker for target under name.
func NewPingChecker(name string, target Pinger) *PingChecker {
	return &PingChecker{name: name, target: target, Timeout: 2 * time.Second}
}

// Name returns the name of this checker.
func (c *PingChecker) Name() string { return c.name }

// Check pings the target.
func (c *PingChecker) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	if err := c.target.Ping(ctx); err != nil {
		return Unhealthy("ping failed", err)
	}
	return Healthy("reachable").WithDetails(map[string]any{
		"latency": time.Since(start).String(),
	})
}
