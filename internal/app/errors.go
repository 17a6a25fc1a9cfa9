package app

import (
	"errors"
	"fmt"
	"net/http"

	"newsagent/api/internal/auth"
	"newsagent/api/internal/store"
)

// DomainError is rendered as <error info="Message"/> with Status.
type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found")
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message)
}

var (
	errLoginRequired = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "You must be logged in to do that")
	errForbidden     = domainError(http.StatusForbidden, "FORBIDDEN", "You do not have permission to do that")
)

func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}
	if store.IsNotFound(err) {
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return errLoginRequired.Status, errLoginRequired.Code, errLoginRequired.Message
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
