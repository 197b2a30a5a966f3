package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindTransport         ErrorKind = "transport"
	ErrorKindProviderRejection ErrorKind = "provider_rejection"
	ErrorKindTimeoutExhausted  ErrorKind = "timeout_exhausted"
	ErrorKindGrantFailure      ErrorKind = "grant_failure"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrShuttingDown    = errors.New("orchestrator is shutting down")
	// ErrSessionInProgress means another payer's session is live on the device.
	ErrSessionInProgress = errors.New("a payment is already in progress on this device")
)

// FlowError classifies every failure a purchase can end with.
// Reason is safe to show to the payer.
type FlowError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func NewFlowError(kind ErrorKind, reason string, err error) *FlowError {
	return &FlowError{Kind: kind, Reason: reason, Err: err}
}

func ValidationError(reason string) *FlowError {
	return &FlowError{Kind: ErrorKindValidation, Reason: reason}
}

func IsKind(err error, kind ErrorKind) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Kind == kind
}

// Reason returns the payer-facing reason of err, or fallback.
func Reason(err error, fallback string) string {
	var fe *FlowError
	if errors.As(err, &fe) && fe.Reason != "" {
		return fe.Reason
	}
	return fallback
}
