package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every stage.
var (
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrMalformedRecord    = errors.New("malformed record")
	ErrIdentityUnresolved = errors.New("identity unresolved")
	ErrConflictDetected   = errors.New("conflict detected")
	ErrExportFailure      = errors.New("export failure")
	ErrNoClaims           = errors.New("no claims produced")
)

// FetchErrorKind narrows a source failure to what the adapter contract allows.
type FetchErrorKind string

const (
	FetchUnreachable       FetchErrorKind = "unreachable"
	FetchAuthRequired      FetchErrorKind = "auth_required"
	FetchMalformedResponse FetchErrorKind = "malformed_response"
)

// SourceError is returned by adapters when a fetch or parse fails.
type SourceError struct {
	SourceID   string
	Kind       FetchErrorKind
	StatusCode int
	Retryable  bool
	Attempts   int
	Err        error
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.SourceID, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is makes every SourceError match ErrSourceUnavailable.
func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// NewSourceError builds a SourceError. Unreachable errors are retryable unless
// the caller overrides Retryable afterwards.
func NewSourceError(sourceID string, kind FetchErrorKind, err error) *SourceError {
	return &SourceError{
		SourceID:  sourceID,
		Kind:      kind,
		Retryable: kind == FetchUnreachable,
		Err:       err,
	}
}

// IsRetryable reports whether err is a transient source failure.
func IsRetryable(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// KindOf returns the fetch error kind carried by err, or "" if none.
func KindOf(err error) FetchErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
