// Package errors provides error handling for the state tree.
//
// This package re-exports github.com/cockroachdb/errors so that every
// package wraps, marks and inspects errors the same way:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for operators
//   - Network portability (EncodeError/DecodeError) for errors that cross
//     a sync session
//
// Packages declare their own sentinel kinds with New and return them
// wrapped, so callers test with Is:
//
//	var ErrInvalidSelector = errors.New("invalid selector")
//
//	return errors.Wrapf(ErrInvalidSelector, "bound %q", text)
//
//	if errors.Is(err, oid.ErrInvalidSelector) {
//	    // reject input
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
	Mark         = crdb.Mark
)

// Operator-facing messages and details
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	WithSafeDetails = crdb.WithSafeDetails
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails

	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// Wire portability for errors reported back to a sync peer
var (
	EncodeError = crdb.EncodeError
	DecodeError = crdb.DecodeError
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Common sentinel errors shared by the outer layers (db, sync, exelet).
// Core packages (oid, st) declare their own kinds.
var (
	// ErrNotFound indicates the requested snapshot, handler or peer does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates a malformed message or command input
	ErrInvalidRequest = New("invalid request")

	// ErrProtocol indicates a peer violated the sync protocol
	ErrProtocol = New("protocol violation")

	// ErrConflict indicates a duplicate registration
	ErrConflict = New("conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}
