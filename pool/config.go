package pool

import (
	"fmt"
	"time"

	"github.com/jonwraymond/steadycore/observe"
)

// Config configures a Pool.
type Config struct {
	// Name identifies the pool in logs and metrics.
	// Default: "pool"
	Name string

	// Min is the number of resources the sweep keeps alive.
	// Default: 0
	Min int

	// Max bounds the number of live resources, borrowed or idle.
	// Default: 10
	Max int

	// AcquireTimeout bounds how long Acquire waits for a resource.
	// Default: 30s
	AcquireTimeout time.Duration

	// IdleTimeout is how long a resource may sit idle before the sweep
	// destroys it. A negative value keeps idle resources forever.
	// Default: 5m
	IdleTimeout time.Duration

	// MaxLifetime bounds a resource's age. Zero means unlimited.
	MaxLifetime time.Duration

	// SweepInterval is the period of the background sweep. A negative value
	// disables it.
	// Default: 30s
	SweepInterval time.Duration

	// TestOnBorrow validates idle resources before lending them out.
	TestOnBorrow bool

	// TestOnReturn validates resources when they are released.
	TestOnReturn bool

	Logger      observe.Logger
	Instruments *observe.Instruments

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "pool"
	}
	if c.Max == 0 {
		c.Max = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Validate checks the pool bounds.
func (c Config) Validate() error {
	if c.Max < 1 {
		return fmt.Errorf("%w: max must be at least 1, got %d", ErrInvalidConfig, c.Max)
	}
	if c.Min < 0 || c.Min > c.Max {
		return fmt.Errorf("%w: min must be between 0 and max (%d), got %d", ErrInvalidConfig, c.Max, c.Min)
	}
	if c.MaxLifetime < 0 {
		return fmt.Errorf("%w: negative max lifetime", ErrInvalidConfig)
	}
	return nil
}
