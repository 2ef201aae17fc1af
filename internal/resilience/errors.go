package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// StatusError is implemented by API client errors that carry an HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// IsTransient reports whether an error is worth retrying: network-level
// failures, timeouts, and 429/5xx responses from upstream services.
// Context cancellation and deadline expiry are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se StatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		return code == 429 || (code >= 500 && code < 600)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}
