package ghl

import (
	"errors"
	"net/http"

	"leadignite/api/internal/apperr"
)

type Kind string

const (
	KindAPI           Kind = "api"
	KindConnection    Kind = "connection"
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindWebhook       Kind = "webhook"
)

var kinds = map[Kind]struct {
	status int
	code   string
	label  string
}{
	KindAPI:           {http.StatusInternalServerError, "GHL_API_ERROR", "GHL API Error"},
	KindConnection:    {http.StatusServiceUnavailable, "GHL_CONNECTION_ERROR", "GHL Connection Error"},
	KindAuthorization: {http.StatusUnauthorized, "GHL_AUTHORIZATION_ERROR", "GHL Authorization Error"},
	KindValidation:    {http.StatusUnprocessableEntity, "GHL_VALIDATION_ERROR", "GHL Validation Error"},
	KindWebhook:       {http.StatusBadRequest, "GHL_WEBHOOK_ERROR", "GHL Webhook Error"},
}

var ErrInvalidSignature = errors.New("ghl: invalid webhook signature")

// Error is a GHL failure. It unwraps to an *apperr.Error carrying the
// kind's HTTP status, and to its cause when there is one.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func newError(kind Kind, message string, details map[string]any, cause error) *Error {
	return &Error{Kind: kind, Message: message, Details: details, cause: cause}
}

func (e *Error) Error() string {
	return kinds[e.Kind].label + ": " + e.Message
}

func (e *Error) Status() int {
	if k, ok := kinds[e.Kind]; ok {
		return k.status
	}
	return http.StatusInternalServerError
}

func (e *Error) Unwrap() []error {
	k := kinds[e.Kind]
	out := []error{apperr.New(e.Status(), k.code, e.Error(), e.Details)}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

func validationError(message string, fieldErrors map[string]string) *Error {
	if fieldErrors == nil {
		fieldErrors = map[string]string{}
	}
	return newError(KindValidation, message, map[string]any{"field_errors": fieldErrors}, nil)
}

func webhookError(message string, cause error) *Error {
	return newError(KindWebhook, message, nil, cause)
}

func authorizationError(message string) *Error {
	if message == "" {
		message = "Invalid or expired GHL credentials"
	}
	return newError(KindAuthorization, message, nil, nil)
}
