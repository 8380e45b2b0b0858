package exhibitsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by Client.
var (
	ErrNotFound     = errors.New("exhibitsapi: record not found")
	ErrUnauthorized = errors.New("exhibitsapi: unauthorized")
	ErrConflict     = errors.New("exhibitsapi: conflict")
	ErrUnavailable  = errors.New("exhibitsapi: upstream unavailable")
	ErrUnknownKind  = errors.New("exhibitsapi: unknown record kind")
)

// StatusError is an unexpected 4xx response from the API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("exhibitsapi: %d %s", e.StatusCode, e.Message)
}

// mapStatus translates an API status code into a typed error.
func mapStatus(code int, message string) error {
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, message)
	case code >= 500:
		return fmt.Errorf("%w: %d %s", ErrUnavailable, code, message)
	default:
		return &StatusError{StatusCode: code, Message: message}
	}
}

// mapTransport translates network and context failures.
func mapTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Classify returns a short label for metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
