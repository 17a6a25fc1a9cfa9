package webapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthRequired is matched by errors that mean the caller has to log in
	// before the operation can succeed.
	ErrAuthRequired   = errors.New("authentication required")
	ErrLoginCancelled = errors.New("login cancelled")
)

// TransportError means the request never produced a usable api document:
// the connection failed, the server answered with a non-success status and no
// error element, or the body could not be parsed.
type TransportError struct {
	Operation  string
	StatusCode int
	Status     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is an <error> element returned by the server.
type APIError struct {
	Operation  string
	StatusCode int
	Info       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Info)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAuthRequired && e.StatusCode == http.StatusUnauthorized
}

// ValidationError is raised before anything is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Message renders err for a status line: the server text for API errors and
// "failed: <reason>" for everything else.
func Message(err error, failed string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Info
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		if transportErr.Status != "" {
			return failed + ":" + transportErr.Status
		}
		return failed + ":" + transportErr.Err.Error()
	}
	return failed + ":" + err.Error()
}
