package errors

import (
	"errors"
)

// Sentinel errors for the gateway taxonomy
var (
	// ErrNotFound - unknown agent or model (404 to the client)
	ErrNotFound = errors.New("not found")

	// ErrLimitExceeded - pre-flight spend limit hit (429, token_cost_limit_exceeded)
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrUpstream - provider call failed; upstream status passed through when known
	ErrUpstream = errors.New("upstream error")

	// ErrInvalidInput - malformed client request (400)
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal - everything else; never leaks detail to the client
	ErrInternal = errors.New("internal error")
)
