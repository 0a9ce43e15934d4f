package db

import (
	"strings"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
)

var (
	// ErrNotFound is returned for unknown snapshot names.
	ErrNotFound = errors.ErrNotFound

	// ErrDatabaseClosed is returned when a save races shutdown, typically an
	// autosave firing after the node closed its database.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrDigestMismatch means a stored blob no longer hashes to its recorded
	// digest. It matches codec.ErrCorrupt.
	ErrDigestMismatch = errors.Wrap(codec.ErrCorrupt, "snapshot digest mismatch")
)

// IsDatabaseClosed reports whether err is ErrDatabaseClosed or a raw
// database/sql error for a closed handle.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	// the sql driver returns its own error types that cannot be wrapped at the source
	return strings.Contains(err.Error(), "database is closed")
}

// markClosed replaces raw closed-handle errors with a wrapped
// ErrDatabaseClosed so both errors.Is implementations match it.
func markClosed(err error) error {
	if err != nil && !errors.Is(err, ErrDatabaseClosed) && IsDatabaseClosed(err) {
		return errors.Wrap(ErrDatabaseClosed, err.Error())
	}
	return err
}
