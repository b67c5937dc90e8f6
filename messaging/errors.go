package messaging

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/steadycore/resilience"
)

var (
	// ErrMissingBaseURL is returned by New without Config.BaseURL.
	ErrMissingBaseURL = errors.New("messaging: base url is required")

	// ErrInvalidArgument is returned for empty identifiers or content.
	ErrInvalidArgument = errors.New("messaging: invalid argument")
)

// StatusError is a non-2xx response from the remote API.
type StatusError struct {
	Code    int
	Message string

	// Wait is the server-requested delay from a Retry-After header.
	Wait time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("messaging: status %d", e.Code)
	}
	return fmt.Sprintf("messaging: status %d: %s", e.Code, e.Message)
}

// StatusCode implements resilience.StatusCoder.
func (e *StatusError) StatusCode() int { return e.Code }

// RetryAfter implements resilience.RetryAfterer.
func (e *StatusError) RetryAfter() time.Duration { return e.Wait }

// Is maps the status onto the resilience error kinds.
func (e *StatusError) Is(target error) bool {
	switch target {
	case resilience.ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	case resilience.ErrTransient:
		return e.Code >= 500
	case resilience.ErrClientError:
		return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
	}
	return false
}

// parseRetryAfter reads a Retry-After value in (possibly fractional)
// seconds or as an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

var (
	_ resilience.StatusCoder  = (*StatusError)(nil)
	_ resilience.RetryAfterer = (*StatusError)(nil)
)
