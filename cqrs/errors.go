package cqrs

import (
	"errors"
	"fmt"
)

// DeniedMessage is the only text externally visible security failures carry.
// It matches the token pipeline's public denial message so that rejected
// events, rejected commands and rejected tokens are indistinguishable from
// outside.
const DeniedMessage = "access denied: required context missing"

// ErrDenied is the generic security denial. Logs and metrics keep the
// specific cause; callers forward only this.
var ErrDenied = errors.New(DeniedMessage)

// RateLimitExceededError marks an event rejected by the per-tenant limiter.
// Externally it reads as the generic denial; the type and tenant stay
// available for logs.
type RateLimitExceededError struct {
	TenantID string
}

func (e *RateLimitExceededError) Error() string { return DeniedMessage }

func (e *RateLimitExceededError) Unwrap() error { return ErrDenied }

// DomainError is a business-rule violation raised by an aggregate handler.
// The pipeline passes it through untouched.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDomainError builds a DomainError with a formatted message.
func NewDomainError(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsDomainError reports whether err is a business-rule violation.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// InvalidStateError reports an event type the aggregate's fold function does
// not recognise. Reaching it means the stream and the aggregate code are out
// of sync.
type InvalidStateError struct {
	AggregateType string
	EventType     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("aggregate %s cannot apply event type %s", e.AggregateType, e.EventType)
}
