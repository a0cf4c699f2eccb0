// Package errors provides error handling for Conflux.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Sentinel-based error classification
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Classify
//	if errors.Is(err, errors.ErrTransient) {
//	    // retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection and marking
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
	Mark   = crdb.Mark
)

// Ingestion error taxonomy.
//
// The pipeline matches on kind with errors.Is, not on concrete types.
// The set is closed: every error the core raises or classifies wraps
// exactly one of these sentinels.
var (
	// ErrValidation marks a malformed value on a single record. Caught
	// per-record, counted as failed, ingestion continues.
	ErrValidation = New("validation error")

	// ErrTransient marks a retryable outbound I/O failure. Handled by
	// the resilience layer, surfaced only after retries are exhausted.
	ErrTransient = New("transient error")

	// ErrInjected marks a deliberately injected failure. Always fatal
	// to the current run; the run-completion path records it.
	ErrInjected = New("injected failure")

	// ErrPersistence marks a ledger or store write failure. Always
	// fatal and never retried: masking it would break resumability.
	ErrPersistence = New("persistence error")
)

// IsValidation reports whether err is or wraps ErrValidation.
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsTransient reports whether err is or wraps ErrTransient.
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrTransient)
}

// IsInjected reports whether err is or wraps ErrInjected.
func IsInjected(err error) bool {
	return err != nil && Is(err, ErrInjected)
}

// IsPersistence reports whether err is or wraps ErrPersistence.
func IsPersistence(err error) bool {
	return err != nil && Is(err, ErrPersistence)
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewTransientError creates a transient I/O error with a formatted message.
func NewTransientError(format string, args ...interface{}) error {
	return Wrap(ErrTransient, Newf(format, args...).Error())
}

// WrapTransient wraps an error as transient while preserving its message.
func WrapTransient(err error, context string) error {
	return Wrap(Wrap(ErrTransient, err.Error()), context)
}

// WrapPersistence wraps a store or ledger write failure so callers can
// recognize it as fatal.
func WrapPersistence(err error, context string) error {
	return Wrap(Wrap(ErrPersistence, err.Error()), context)
}
