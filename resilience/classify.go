package resilience

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// Class is the retry classification of an error.
type Class int

const (
	// Retryable errors trigger another attempt after a backoff delay.
	Retryable Class = iota
	// Fatal errors propagate on first occurrence.
	Fatal
)

func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Classifier maps an error to its retry class.
type Classifier func(err error) Class

// AlwaysRetry classifies every error as retryable.
func AlwaysRetry(error) Class { return Retryable }

// StatusCoder is implemented by errors carrying an HTTP-like status code.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer is implemented by errors carrying a server-requested delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// RetryAfterHint returns the server-requested delay carried by err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// ClassifyHTTP classifies errors from a remote HTTP API.
//
// Connection-level network failures (dial and socket errors, resets, network
// timeouts, temporary DNS failures), per-attempt timeouts, 5xx and 429 are
// retryable. Other 4xx, certificate failures, caller cancellation and
// unrecognised errors, such as an unsupported URL scheme, are fatal.
func ClassifyHTTP(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		switch {
		case code == 429, code >= 500:
			return Retryable
		case code >= 400:
			return Fatal
		}
	}

	switch {
	case errors.Is(err, ErrClientError):
		return Fatal
	case errors.Is(err, ErrTransient),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrTimeout),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return Retryable
	}

	if isCertificateError(err) {
		return Fatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Retryable
	}
	return Fatal
}

// isCertificateError reports TLS verification failures, which no retry fixes.
func isCertificateError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}
