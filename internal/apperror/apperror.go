package apperror

import "net/http"

// Error is a domain error carrying the HTTP status it should render as.
// All expected failure modes are raised as *Error and formatted by a
// single response writer; anything else renders as a 500.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Fail reports whether the error is a client fault (4xx).
func (e *Error) Fail() bool {
	return e.Status >= 400 && e.Status < 500
}

func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

func Unauthenticated(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

func TooManyRequests(message string) *Error {
	return New(http.StatusTooManyRequests, message)
}

func Internal(message string) *Error {
	return New(http.StatusInternalServerError, message)
}
