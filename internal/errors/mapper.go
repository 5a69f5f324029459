package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// MapUpstream maps a provider-call failure into the gateway taxonomy,
// preserving the upstream HTTP status when the provider reported one.
func MapUpstream(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("upstream timeout: %w", ErrUpstream)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamStatusError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamStatusError{Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}

	return fmt.Errorf("%v: %w", err, ErrUpstream)
}

// UpstreamStatusError carries the provider's HTTP status through the taxonomy.
type UpstreamStatusError struct {
	Status  int
	Message string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

func (e *UpstreamStatusError) Unwrap() error {
	return ErrUpstream
}

// HTTPStatus resolves an error to the status and machine code written to the client.
func HTTPStatus(err error) (int, string) {
	var upErr *UpstreamStatusError

	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrLimitExceeded):
		return http.StatusTooManyRequests, "token_cost_limit_exceeded"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &upErr) && upErr.Status > 0:
		return upErr.Status, "upstream_error"
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// IsCategory checks if error belongs to a specific category.
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// NotFound wraps a message as not found.
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// LimitExceeded wraps a message as a pre-flight limit block.
func LimitExceeded(message string) error {
	return fmt.Errorf("%s: %w", message, ErrLimitExceeded)
}

// InvalidInput wraps a message as invalid input.
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Internal wraps a message as internal.
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}
