package config

import "errors"

var (
	// ErrInvalidConfig indicates a setting is out of range.
	ErrInvalidConfig = errors.New("config: invalid")

	// ErrInvalidCacheSpec indicates a malformed entry in the caches setting.
	ErrInvalidCacheSpec = errors.New("config: invalid cache spec")
)
