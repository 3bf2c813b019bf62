package common

import (
	"errors"
	"fmt"
	"net/http"
)

type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError creates an APIError with status, message, and optional fields
func NewAPIError(status int, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Message: message,
		Fields:  fields,
	}
}

// StatusMapping pairs a sentinel error with the HTTP status it renders as.
type StatusMapping struct {
	Err    error
	Status int
}

// ToAPIError converts err to an APIError. An APIError anywhere in the chain
// wins; otherwise the first matching mapping decides the status, and
// anything else is a 500.
func ToAPIError(err error, mappings []StatusMapping) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			return APIError{Status: m.Status, Message: err.Error()}
		}
	}

	return APIError{Status: http.StatusInternalServerError, Message: err.Error()}
}
