// Package errors provides the decode error taxonomy shared by the dbwatch codebase.
package errors

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// Sentinel errors for the decode failure kinds
var (
	// ErrNotFound indicates the source path cannot be opened
	ErrNotFound = errors.New("not found")
	// ErrBadMagic indicates the 16-byte file signature did not match
	ErrBadMagic = errors.New("bad magic header")
	// ErrTruncated indicates a read past the end of the source or an I/O fault
	ErrTruncated = errors.New("truncated or unreadable source")
	// ErrCorrupt indicates structurally invalid content (page cycles, reserved serial types)
	ErrCorrupt = errors.New("corrupt database")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
)

// DecodeError represents a failed decode with the kind and location that caused it.
type DecodeError struct {
	Kind error  // One of ErrNotFound, ErrBadMagic, ErrTruncated, ErrCorrupt
	Op   string // Operation being performed (e.g., "read header", "decode cell")
	Path string // Source path, if known
	Page uint32 // 1-based page number, 0 when not page-scoped
	Err  error  // Underlying error, if any
}

func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Page != 0 {
		msg = fmt.Sprintf("%s (page %d)", msg, e.Page)
	}
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Unwrap exposes ErrInvalidInput and the cause, if any.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidInput, e.Err}
	}
	return []error{ErrInvalidInput}
}

// NewDecode creates a DecodeError of the given kind.
func NewDecode(kind error, op string, page uint32, err error) *DecodeError {
	return &DecodeError{
		Kind: kind,
		Op:   op,
		Page: page,
		Err:  err,
	}
}

// Truncated creates a DecodeError of kind ErrTruncated.
func Truncated(op string, page uint32, err error) *DecodeError {
	return NewDecode(ErrTruncated, op, page, err)
}

// Corrupt creates a DecodeError of kind ErrCorrupt with a formatted reason.
func Corrupt(op string, page uint32, format string, args ...interface{}) *DecodeError {
	return NewDecode(ErrCorrupt, op, page, fmt.Errorf(format, args...))
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// WrapValidation creates a ValidationError from a failed check.
func WrapValidation(field string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: err.Error(),
		Err:     err,
	}
}

// FromIO maps an I/O failure onto the decode taxonomy. Missing files become
// ErrNotFound; everything else, short reads included, becomes ErrTruncated.
// Errors that already carry a kind are returned unchanged.
func FromIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		if de.Path == "" {
			de.Path = path
		}
		return de
	}
	kind := ErrTruncated
	if errors.Is(err, fs.ErrNotExist) {
		kind = ErrNotFound
	}
	return &DecodeError{Kind: kind, Op: op, Path: path, Err: err}
}

// IsShortRead reports whether err signals that the source ended early.
func IsShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
