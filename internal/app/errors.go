package app

import (
	"context"
	"errors"
	"net/http"

	"leadignite/api/internal/apperr"
)

func mapError(err error) (status int, code, message string, details any) {
	if domainErr, ok := apperr.As(err); ok {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
