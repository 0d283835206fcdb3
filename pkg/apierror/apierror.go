// Package apierror defines the closed error taxonomy the client core works
// with. Transport-specific failures are mapped into it once, at the network
// adapter, so business logic only ever branches on Kind.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failure by how callers must react to it.
type Kind string

const (
	KindAuthenticationRequired Kind = "authentication_required"
	KindRateLimited            Kind = "rate_limited"
	KindServiceUnavailable     Kind = "service_unavailable"
	KindNetwork                Kind = "network_error"
	KindValidation             Kind = "validation_error"
	KindPermissionDenied       Kind = "permission_denied"
	KindNotFound               Kind = "not_found"
)

// Error is a classified failure. Message holds the backend's structured
// error message when one was returned; Err holds the underlying transport
// or local error, if any.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Kind, e.Status)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a locally raised error with a user-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// FromStatus maps an HTTP error response onto the taxonomy. 401 is the only
// status treated as a rejected session.
func FromStatus(status int, code, message string) *Error {
	e := &Error{Status: status, Code: strings.TrimSpace(code), Message: strings.TrimSpace(message)}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuthenticationRequired
	case status == http.StatusForbidden:
		e.Kind = KindPermissionDenied
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status >= 500:
		e.Kind = KindServiceUnavailable
		if e.Code == "" {
			e.Code = fmt.Sprintf("http_%d", status)
		}
	default:
		e.Kind = KindValidation
	}
	return e
}

// Transport classifies a failure that happened before any HTTP response was
// received.
func Transport(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	e := &Error{Kind: KindNetwork, Err: err, Code: "connectivity"}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		e.Code = "timeout"
	}
	return e
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindServiceUnavailable, KindNetwork:
		return true
	default:
		return false
	}
}

// Message derives the user-facing text for err: the backend's structured
// message first, then the transport error's own message, then fallback.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil && strings.TrimSpace(e.Err.Error()) != "" {
			return e.Err.Error()
		}
		return fallback
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}
