package storage

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/jonwraymond/steadycore/resilience"
)

var (
	// ErrTransientContention wraps busy/locked driver errors. Retryable.
	ErrTransientContention = errors.New("storage: transient contention")

	// ErrFatalStorage wraps constraint and schema errors. Not retried.
	ErrFatalStorage = errors.New("storage: fatal storage error")

	// ErrInvalidClaim is returned when a TableClaim names an invalid identifier.
	ErrInvalidClaim = errors.New("storage: invalid claim")

	// ErrMissingPath is returned by Open without a database path.
	ErrMissingPath = errors.New("storage: database path is required")
)

// Classify is the storage retry classifier: busy and locked conditions are
// retryable, everything else is fatal.
func Classify(err error) resilience.Class {
	if errors.Is(err, ErrTransientContention) {
		return resilience.Retryable
	}
	var se sqlite3.Error
	if errors.As(err, &se) && isContention(se) {
		return resilience.Retryable
	}
	return resilience.Fatal
}

func isContention(se sqlite3.Error) bool {
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

// wrapDriverError tags driver errors with their storage kind while keeping
// the original error reachable through errors.Is/As.
func wrapDriverError(err error) error {
	if err == nil || errors.Is(err, ErrTransientContention) || errors.Is(err, ErrFatalStorage) {
		return err
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	if isContention(se) {
		return fmt.Errorf("%w: %w", ErrTransientContention, err)
	}
	return fmt.Errorf("%w: %w", ErrFatalStorage, err)
}
