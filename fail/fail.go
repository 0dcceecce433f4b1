// Package fail provides errors that know which HTTP status (and therefore which gRPC code)
// best describes them, so every gateway can report failures consistently.
package fail

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is an error message paired with the HTTP status that most closely describes it.
type StatusError struct {
	// Status is the HTTP status code that most closely describes this error.
	Status int `json:"Status" msgpack:"Status"`
	// Message is the human-readable error message.
	Message string `json:"Message" msgpack:"Message"`
}

// StatusCode returns the HTTP status of the error.
func (r StatusError) StatusCode() int {
	return r.Status
}

// Error returns the underlying error message.
func (r StatusError) Error() string {
	return r.Message
}

// New creates an error with an arbitrary status. The named constructors (BadRequest, NotFound,
// and friends) read better, so reach for those first.
func New(status int, messageFormat string, args ...any) StatusError {
	return StatusError{Status: status, Message: fmt.Sprintf(messageFormat, args...)}
}

// Unexpected is a 500 catch-all for failures you don't know what to do with.
func Unexpected(messageFormat string, args ...any) StatusError {
	return New(http.StatusInternalServerError, messageFormat, args...)
}

// BadRequest is a 400 for input that was malformed or failed validation.
func BadRequest(messageFormat string, args ...any) StatusError {
	return New(http.StatusBadRequest, messageFormat, args...)
}

// NotFound is a 404 for operations or resources that don't exist.
func NotFound(messageFormat string, args ...any) StatusError {
	return New(http.StatusNotFound, messageFormat, args...)
}

// MethodNotAllowed is a 405 for HTTP requests that used the wrong method.
func MethodNotAllowed(messageFormat string, args ...any) StatusError {
	return New(http.StatusMethodNotAllowed, messageFormat, args...)
}

// Timeout is a 408 for operations that ran out of time.
func Timeout(messageFormat string, args ...any) StatusError {
	return New(http.StatusRequestTimeout, messageFormat, args...)
}

// NotImplemented is a 501 for operations this server doesn't offer.
func NotImplemented(messageFormat string, args ...any) StatusError {
	return New(http.StatusNotImplemented, messageFormat, args...)
}

// Unavailable is a 503 for dependencies that are down or refusing work (a broker connection,
// a remote server, an open circuit breaker).
func Unavailable(messageFormat string, args ...any) StatusError {
	return New(http.StatusServiceUnavailable, messageFormat, args...)
}

// Status digs through the error chain for a Status(), StatusCode(), Code(), or HTTPStatusCode()
// method (in that order) and returns its value. Errors with none of them are a 500.
func Status(err error) int {
	if status, ok := statusFrom(err, errorWithStatus.Status); ok {
		return status
	}
	if status, ok := statusFrom(err, errorWithStatusCode.StatusCode); ok {
		return status
	}
	if status, ok := statusFrom(err, errorWithCode.Code); ok {
		return status
	}
	if status, ok := statusFrom(err, errorWithHTTPStatusCode.HTTPStatusCode); ok {
		return status
	}
	return http.StatusInternalServerError
}

func statusFrom[T error](err error, status func(T) int) (int, bool) {
	var target T
	if errors.As(err, &target) {
		return status(target), true
	}
	return 0, false
}

// IsUnexpected reports whether Status(err) is 500.
func IsUnexpected(err error) bool { return Status(err) == http.StatusInternalServerError }

// IsBadRequest reports whether Status(err) is 400.
func IsBadRequest(err error) bool { return Status(err) == http.StatusBadRequest }

// IsNotFound reports whether Status(err) is 404.
func IsNotFound(err error) bool { return Status(err) == http.StatusNotFound }

// IsMethodNotAllowed reports whether Status(err) is 405.
func IsMethodNotAllowed(err error) bool { return Status(err) == http.StatusMethodNotAllowed }

// IsTimeout reports whether Status(err) is 408.
func IsTimeout(err error) bool { return Status(err) == http.StatusRequestTimeout }

// IsNotImplemented reports whether Status(err) is 501.
func IsNotImplemented(err error) bool { return Status(err) == http.StatusNotImplemented }

// IsUnavailable reports whether Status(err) is 503.
func IsUnavailable(err error) bool { return Status(err) == http.StatusServiceUnavailable }

type errorWithStatus interface {
	error
	Status() int
}

type errorWithStatusCode interface {
	error
	StatusCode() int
}

type errorWithCode interface {
	error
	Code() int
}

type errorWithHTTPStatusCode interface {
	error
	HTTPStatusCode() int
}

// ErrorHandler receives errors from background work (event delivery, async publishing) where
// there's no caller left to return them to.
type ErrorHandler func(err error)
