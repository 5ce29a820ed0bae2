// Package apperr carries domain failures with the HTTP status and machine
// code they map to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(status int, code, message string, details any) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func NotFound(what string) *Error {
	return New(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func Invalid(message string, details any) *Error {
	return New(http.StatusUnprocessableEntity, "VALIDATION_FAILED", message, details)
}

func Conflict(code, message string) *Error {
	return New(http.StatusConflict, code, message, nil)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "FORBIDDEN", message, nil)
}

// As returns the domain error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
