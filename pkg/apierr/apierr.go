// Package apierr defines the error taxonomy for calls against the Lens service.
//
// Transport and model code return exactly one of these kinds so that the
// session dispatcher can map a failure to a connection-state transition
// without inspecting strings.
package apierr

import (
	"errors"
	"fmt"
)

// ConnectionError covers DNS, TCP, TLS and timeout failures before a
// response was received. The session downgrades to Disconnected but keeps
// the token.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RequestError covers I/O failures mid-response (truncated or unreadable
// body). Treated like a connection failure by the session.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed during %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// AuthError is an HTTP 401: the token is missing, invalid or expired.
// Forces a logout.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected during %s", e.Op)
}

// PermissionError is an HTTP 403. Non-fatal; session state is unchanged.
type PermissionError struct {
	Op string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied during %s", e.Op)
}

// NotFoundError is an HTTP 404. Non-fatal; the affected view should refresh.
type NotFoundError struct {
	Op string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource not found during %s", e.Op)
}

// APIError is any other non-2xx status. Carries the status and the raw
// response body for logging.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api call %s returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// LocalIOError is a filesystem failure during download, mtime update or
// directory manipulation. Aborts the action; session state is unchanged.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local io failed during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// AsConnection checks if an error is a ConnectionError and returns it.
func AsConnection(err error) (*ConnectionError, bool) {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsRequest checks if an error is a RequestError and returns it.
func AsRequest(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// AsAuth checks if an error is an AuthError and returns it.
func AsAuth(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// AsPermission checks if an error is a PermissionError and returns it.
func AsPermission(err error) (*PermissionError, bool) {
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// AsNotFound checks if an error is a NotFoundError and returns it.
func AsNotFound(err error) (*NotFoundError, bool) {
	var ne *NotFoundError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// AsAPI checks if an error is an APIError and returns it.
func AsAPI(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// AsLocalIO checks if an error is a LocalIOError and returns it.
func AsLocalIO(err error) (*LocalIOError, bool) {
	var le *LocalIOError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsOffline reports whether err means the server was unreachable
// (connection or mid-request failure).
func IsOffline(err error) bool {
	if _, ok := AsConnection(err); ok {
		return true
	}
	_, ok := AsRequest(err)
	return ok
}

// FromStatus maps a non-2xx HTTP status to the taxonomy.
func FromStatus(op string, status int, body string) error {
	switch status {
	case 401:
		return &AuthError{Op: op}
	case 403:
		return &PermissionError{Op: op}
	case 404:
		return &NotFoundError{Op: op}
	default:
		return &APIError{Op: op, StatusCode: status, Body: body}
	}
}
