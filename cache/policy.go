package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("cache: invalid policy")

// Policy configures a cache.
type Policy struct {
	// DefaultTTL applies when Set is called with ttl <= 0.
	// Zero disables caching.
	DefaultTTL time.Duration

	// MaxTTL clamps explicit TTLs. Zero means no maximum.
	MaxTTL time.Duration

	// MaxSize is the entry count above which low-score entries are evicted.
	// Zero means unbounded.
	MaxSize int

	// SweepInterval is the period of the expiry and eviction sweep.
	// Zero disables the background sweep; expiry is then lazy only.
	SweepInterval time.Duration
}

// DefaultPolicy returns the default policy:
// 5m default TTL, 1h max TTL, 1000 entries, 1m sweep.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:    5 * time.Minute,
		MaxTTL:        time.Hour,
		MaxSize:       1000,
		SweepInterval: time.Minute,
	}
}

// NoCachePolicy returns a policy under which Set stores nothing.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache reports whether the policy caches anything by default.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use for an explicit ttl, applying the
// default for ttl <= 0 and clamping to MaxTTL.
func (p Policy) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

// Validate checks the policy for negative values.
func (p Policy) Validate() error {
	switch {
	case p.DefaultTTL < 0, p.MaxTTL < 0, p.SweepInterval < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidPolicy)
	case p.MaxSize < 0:
		return fmt.Errorf("%w: negative max size %d", ErrInvalidPolicy, p.MaxSize)
	case p.MaxTTL > 0 && p.DefaultTTL > p.MaxTTL:
		return fmt.Errorf("%w: default ttl %s exceeds max ttl %s", ErrInvalidPolicy, p.DefaultTTL, p.MaxTTL)
	}
	return nil
}
