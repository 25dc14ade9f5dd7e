package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidPhone         = errors.New("invalid phone number format. Use 07XXXXXXXX or 254XXXXXXXXX")
	ErrInvalidAmount        = errors.New("amount must be a whole number between 1 and 150000")
	ErrAPIKeyRequired       = errors.New("API key is required")
	ErrInvalidAPIKey        = errors.New("invalid API key")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already exists")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrUpstreamUnavailable  = errors.New("payment gateway unavailable")
)

// UpstreamError is a rejection reported by the payment gateway itself.
type UpstreamError struct {
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway rejected request: %s", e.Message)
	}
	return fmt.Sprintf("gateway rejected request (%s): %s", e.Code, e.Message)
}

// ValidationError names the offending field of a request.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
