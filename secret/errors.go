package secret

import "errors"

var (
	// ErrMissingEnv indicates a ${VAR} reference to an unset variable.
	ErrMissingEnv = errors.New("secret: missing required environment variables")

	// ErrProviderNotRegistered indicates a secretref names an unknown provider.
	ErrProviderNotRegistered = errors.New("secret: provider not registered")

	// ErrDuplicateProvider indicates a provider name is already registered.
	ErrDuplicateProvider = errors.New("secret: provider already registered")

	// ErrInvalidRef indicates an empty provider name or reference.
	ErrInvalidRef = errors.New("secret: invalid reference")

	// ErrNotFound indicates the provider has no secret under the reference.
	ErrNotFound = errors.New("secret: not found")

	// ErrEmptySecret indicates a strict resolver got an empty value.
	ErrEmptySecret = errors.New("secret: empty value")
)
