package store

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeStorageUnavailable indicates the backing file cannot be opened,
	// created, or used at its current schema version. Not retried.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// ErrCodeUnsupportedMigration indicates a schema newer than this build
	// understands, or a migration target that is not ahead of the current
	// version. No data is mutated when this is returned.
	ErrCodeUnsupportedMigration ErrorCode = "UNSUPPORTED_MIGRATION"

	// ErrCodeUnknownJail indicates a write referenced a jail that was never
	// registered.
	ErrCodeUnknownJail ErrorCode = "UNKNOWN_JAIL"
)

// Error is returned by store operations that fail for a categorized reason.
type Error struct {
	Code    ErrorCode
	Message string

	// Path is the database file involved, if any.
	Path string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStorageUnavailable reports whether err carries ErrCodeStorageUnavailable.
func IsStorageUnavailable(err error) bool {
	return hasCode(err, ErrCodeStorageUnavailable)
}

// IsUnsupportedMigration reports whether err carries ErrCodeUnsupportedMigration.
// Open wraps an unsupported schema inside a storage-unavailable error, so
// both predicates hold for a file written by a newer build.
func IsUnsupportedMigration(err error) bool {
	return hasCode(err, ErrCodeUnsupportedMigration)
}

// IsUnknownJail reports whether err carries ErrCodeUnknownJail.
func IsUnknownJail(err error) bool {
	return hasCode(err, ErrCodeUnknownJail)
}

// hasCode walks the whole chain; errors.As alone would stop at the first *Error.
func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		var se *Error
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Err
	}
	return false
}

func unavailable(path, message string, err error) *Error {
	return &Error{Code: ErrCodeStorageUnavailable, Message: message, Path: path, Err: err}
}

func unsupportedMigration(format string, args ...any) *Error {
	return &Error{Code: ErrCodeUnsupportedMigration, Message: fmt.Sprintf(format, args...)}
}

func unknownJail(name string) *Error {
	return &Error{Code: ErrCodeUnknownJail, Message: fmt.Sprintf("jail %q is not registered", name)}
}
