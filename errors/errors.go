// Package errors provides error handling for the metadata catalog.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
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
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
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

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the concept store and cache layer.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the kind.
var (
	// ErrNotFound indicates the requested concept, revision, or provider
	// does not exist
	ErrNotFound = New("not found")

	// ErrRevisionConflict indicates a revision numbering collision: either
	// an explicit revision-id did not match current-max+1, or concurrent
	// writers exhausted the insert retry budget
	ErrRevisionConflict = New("revision conflict")

	// ErrValidation indicates invalid input reaching the core: a malformed
	// tenant identifier, an unknown concept type, or a malformed concept-id
	ErrValidation = New("validation failure")

	// ErrNamespaceOperation indicates a namespace (table/sequence) create or
	// drop failed, possibly partway through the concept-type loop
	ErrNamespaceOperation = New("namespace operation failure")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsRevisionConflict checks if an error is or wraps ErrRevisionConflict.
func IsRevisionConflict(err error) bool {
	return err != nil && Is(err, ErrRevisionConflict)
}

// IsValidation checks if an error is or wraps ErrValidation.
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsNamespaceOperation checks if an error is or wraps ErrNamespaceOperation.
func IsNamespaceOperation(err error) bool {
	return err != nil && Is(err, ErrNamespaceOperation)
}

// NewNotFound creates a not-found error with a formatted message
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewRevisionConflict creates a revision-conflict error with a formatted message
func NewRevisionConflict(format string, args ...interface{}) error {
	return Wrap(ErrRevisionConflict, Newf(format, args...).Error())
}

// NewValidation creates a validation error with a formatted message
func NewValidation(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// WrapNamespaceOperation wraps a DDL failure as a namespace-operation error
// with context naming the namespace that failed
func WrapNamespaceOperation(err error, context string) error {
	return Wrap(Wrap(ErrNamespaceOperation, err.Error()), context)
}
