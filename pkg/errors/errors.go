// Package errors defines the error kinds shared across the n-gram tooling:
// sentinel values for classification with errors.Is, and typed errors that
// carry the offending document, record or configuration field.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentLoad    = errors.New("document load failed")
	ErrMalformedRecord = errors.New("malformed baseline record")
	ErrConfiguration   = errors.New("invalid configuration")
	ErrBaseline        = errors.New("baseline unavailable")
	ErrSinkUnavailable = errors.New("report sink unavailable")
)

// AppError attaches a human-readable message to a sentinel error.
type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{Err: sentinel, Message: message}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{Err: sentinel, Message: fmt.Sprintf(format, args...)}
}

// DocumentLoadError reports a document that could not be read or decoded.
// It matches both ErrDocumentLoad and the underlying cause.
type DocumentLoadError struct {
	DocID string
	Path  string
	Err   error
}

func (e *DocumentLoadError) Error() string {
	if e.DocID == "" {
		return fmt.Sprintf("%s: %s: %v", ErrDocumentLoad.Error(), e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s): %v", ErrDocumentLoad.Error(), e.DocID, e.Path, e.Err)
}

func (e *DocumentLoadError) Unwrap() []error {
	return []error{ErrDocumentLoad, e.Err}
}

// MalformedRecordError reports a baseline dump line that is not "key count".
type MalformedRecordError struct {
	Line int
	Text string
	Err  error
}

func (e *MalformedRecordError) Error() string {
	msg := fmt.Sprintf("%s at line %d: %q", ErrMalformedRecord.Error(), e.Line, e.Text)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedRecordError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedRecord}
	}
	return []error{ErrMalformedRecord, e.Err}
}

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration.Error(), e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// IsDocumentLoad reports whether err was caused by a single document failing
// to load, which callers treat as skippable.
func IsDocumentLoad(err error) bool {
	return errors.Is(err, ErrDocumentLoad)
}
