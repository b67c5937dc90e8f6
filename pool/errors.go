package pool

import "errors"

var (
	// ErrPoolExhausted is returned when no resource became available before
	// the acquisition timeout.
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrPoolClosed is returned by operations on a closed pool.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("pool: invalid config")
)
