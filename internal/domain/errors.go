package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

var (
	ErrNoCredentials        = errors.New("no session token configured")
	ErrCredentialsExhausted = errors.New("every session token was rejected")
	ErrNoSuitableModel      = errors.New("no active non-pro model available")
	ErrSwitchExhausted      = errors.New("account switching failed repeatedly")
	ErrStreamAborted        = errors.New("response stream aborted")
)

// StatusError is a non-2xx response from the chat service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsAuthStatus reports whether err is a 401 or 403 from the chat service.
// Auth failures are credential-scoped: the remediation is rotating the
// session token, never the proxy.
func IsAuthStatus(err error) bool {
	var status *StatusError
	if !errors.As(err, &status) {
		return false
	}
	return status.Code == http.StatusUnauthorized || status.Code == http.StatusForbidden
}

// IsTransient reports whether err is worth a backoff retry: a network-level
// fault, a timeout, or a 5xx from the chat service.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded)
}

// RedactToken shortens a session token for log output.
func RedactToken(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}
