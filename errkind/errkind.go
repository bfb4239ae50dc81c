// Package errkind classifies errors crossing the Sync Engine / remote
// boundary into the fixed vocabulary from spec.md section 7, the way the
// teacher's oversync package classifies Postgres errors in retry.go and
// status reasons in constants.go/status.go.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is one of the fixed error kinds from spec.md section 7.
type Kind string

const (
	NetworkTransient   Kind = "network-transient"
	Server5xx          Kind = "server-5xx"
	AuthExpired        Kind = "auth-expired"
	Conflict           Kind = "conflict"
	NotFound           Kind = "not-found"
	Validation         Kind = "validation"
	StoreUnavailable   Kind = "store-unavailable"
	InvariantViolation Kind = "invariant-violation"
)

// Error wraps an underlying error with a classification kind and an
// optional HTTP status code (0 when the error did not originate from an
// HTTP response).
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (http %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, statusCode int, err error) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, statusCode int, format string, args ...any) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification kind from err, defaulting to
// Validation (surfaced verbatim, per spec.md section 7) when err carries
// no classification of its own.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Validation
}

// IsTransient reports whether err should be absorbed by backoff rather
// than surfaced to the caller — spec.md section 7's propagation policy
// for network-transient and server-5xx.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == NetworkTransient || k == Server5xx
}

// ClassifyHTTPStatus maps a remote HTTP response status code to a Kind,
// following spec.md section 7's error-kind table and section 4.G's
// network-class-failure rule (5xx is network-class on writes).
func ClassifyHTTPStatus(statusCode int, responseBody string) Kind {
	switch {
	case statusCode >= 500:
		return Server5xx
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return AuthExpired
	case statusCode == http.StatusNotFound:
		return NotFound
	case statusCode == http.StatusConflict:
		return Conflict
	case statusCode == http.StatusTooManyRequests:
		return NetworkTransient
	case statusCode >= 400:
		return Validation
	default:
		return Validation
	}
}

// ClassifyTransportError maps a transport-level failure (not even an HTTP
// response) to a Kind. Matches spec.md section 4.G's network-class
// failure pattern: "Failed to fetch | NetworkError | !navigator.onLine",
// translated to the net/http idiom of a non-nil transport error.
func ClassifyTransportError(err error) Kind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "eof") {
		return NetworkTransient
	}
	return NetworkTransient
}
