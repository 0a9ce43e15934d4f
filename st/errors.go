package st

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/teranos/statetree/errors"
)

var (
	// ErrBound is returned by Set and Merge while a source is attached.
	ErrBound = errors.New("attribute is bound to a source")
	// ErrTypeMismatch is returned when a value's kind differs from the pinned kind.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrUnsupportedPartial is returned by Attribute.Snapshot with filters.
	ErrUnsupportedPartial = errors.New("partial snapshot of an attribute is not supported")
	ErrNoValue            = errors.New("attribute has no value")
	ErrWrongType          = errors.New("value cannot be coerced")
	// ErrNotDescendant is returned when an OID is outside the addressed document.
	ErrNotDescendant = errors.New("oid is not a descendant")
	ErrInvalidUpdate = errors.New("invalid update")
)

// MergeFailure records one update entry that could not be applied.
type MergeFailure struct {
	Key     string
	Removal bool
	Err     error
}

func (f MergeFailure) Error() string {
	if f.Removal {
		return fmt.Sprintf("remove %s: %v", f.Key, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.Key, f.Err)
}

func (f MergeFailure) Unwrap() error { return f.Err }

// MergeError lists the entries of an update that failed. Every other entry
// of the same update was applied.
type MergeError struct {
	Failures []MergeFailure
}

func (e *MergeError) Error() string {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	merr := &multierror.Error{
		Errors: errs,
		ErrorFormat: func(es []error) string {
			lines := make([]string, len(es))
			for i, err := range es {
				lines[i] = "\t* " + err.Error()
			}
			return fmt.Sprintf("merge: %d entries failed:\n%s", len(es), strings.Join(lines, "\n"))
		},
	}
	return merr.Error()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *MergeError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// mergeErrors accumulates failures while an update is applied.
type mergeErrors struct {
	result *multierror.Error
}

func (m *mergeErrors) add(key string, removal bool, err error) {
	if err == nil {
		return
	}
	var nested *MergeError
	if errors.As(err, &nested) {
		for _, f := range nested.Failures {
			m.result = multierror.Append(m.result, f)
		}
		return
	}
	m.result = multierror.Append(m.result, MergeFailure{Key: key, Removal: removal, Err: err})
}

func (m *mergeErrors) err() error {
	if m.result == nil || len(m.result.Errors) == 0 {
		return nil
	}
	failures := make([]MergeFailure, 0, len(m.result.Errors))
	for _, err := range m.result.Errors {
		failures = append(failures, err.(MergeFailure))
	}
	return &MergeError{Failures: failures}
}
