// Package odmerr defines the error taxonomy shared by the registries, the migration
// engine and the dependency maintainer.
package odmerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every error produced by this module wraps exactly one of them.
var (
	// ErrConfiguration is returned for conflicting or invalid startup configuration
	ErrConfiguration = errors.New("configuration error")

	// ErrArgument is returned for invalid arguments at call boundaries
	ErrArgument = errors.New("invalid argument")

	// ErrInvalidState is returned when a frozen registry is mutated or a component is
	// initialized twice
	ErrInvalidState = errors.New("invalid state")

	// ErrMigration is returned when a document cannot be rewritten during a migration run
	ErrMigration = errors.New("migration failed")

	// ErrNotFound is returned when a type, schema, member map or repository is not registered
	ErrNotFound = errors.New("not found")
)

// Error carries the kind, the failing operation and an optional cause
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Configuration builds an ErrConfiguration error
func Configuration(op, format string, args ...any) error {
	return newf(ErrConfiguration, op, format, args...)
}

// Argument builds an ErrArgument error
func Argument(op, format string, args ...any) error {
	return newf(ErrArgument, op, format, args...)
}

// InvalidState builds an ErrInvalidState error
func InvalidState(op, format string, args ...any) error {
	return newf(ErrInvalidState, op, format, args...)
}

// NotFound builds an ErrNotFound error
func NotFound(op, format string, args ...any) error {
	return newf(ErrNotFound, op, format, args...)
}

// Migration wraps a document rewrite failure
func Migration(op string, cause error, format string, args ...any) error {
	e := newf(ErrMigration, op, format, args...)
	e.Err = cause
	return e
}

// IsConfiguration returns true if err is a configuration error
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsArgument returns true if err is an argument error
func IsArgument(err error) bool { return errors.Is(err, ErrArgument) }

// IsInvalidState returns true if err is an invalid state error
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsMigration returns true if err is a migration error
func IsMigration(err error) bool { return errors.Is(err, ErrMigration) }

// IsNotFound returns true if err is a not found error
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
