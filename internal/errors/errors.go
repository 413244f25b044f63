package errors

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Error types for the patch loop
type ErrorType string

const (
	// Patch errors
	ErrorTypeLocate   ErrorType = "locate"
	ErrorTypeApply    ErrorType = "apply"
	ErrorTypeValidate ErrorType = "validate"
	ErrorTypeProposal ErrorType = "proposal"

	// Process errors (git, checkout, clone) are fatal for a task
	ErrorTypeProcess ErrorType = "process"

	// Index errors
	ErrorTypeIndex ErrorType = "index"

	// File errors
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	ErrorTypePermission   ErrorType = "permission"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// ErrNotFound is returned when an excerpt cannot be matched even with the
// search window covering the whole file.
var ErrNotFound = errors.New("snippet not found")

// LocateError carries the file and excerpt that failed to match so the
// next proposal round gets concrete context.
type LocateError struct {
	Type       ErrorType
	FilePath   string
	Excerpt    string
	Underlying error
	Timestamp  time.Time
}

// NewLocateError creates a locate error for path and excerpt
func NewLocateError(path, excerpt string, err error) *LocateError {
	return &LocateError{
		Type:       ErrorTypeLocate,
		FilePath:   path,
		Excerpt:    excerpt,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *LocateError) Error() string {
	return fmt.Sprintf("no match for <original>%s</original> in %s: %v", e.Excerpt, e.FilePath, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *LocateError) Unwrap() error {
	return e.Underlying
}

// ApplyError represents a rejected modification
type ApplyError struct {
	Type       ErrorType
	FilePath   string
	Reason     string
	Underlying error
	Timestamp  time.Time
}

// NewApplyError creates a new apply error
func NewApplyError(path, reason string, err error) *ApplyError {
	return &ApplyError{
		Type:       ErrorTypeApply,
		FilePath:   path,
		Reason:     reason,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ApplyError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("apply %s: %s: %v", e.FilePath, e.Reason, e.Underlying)
	}
	return fmt.Sprintf("apply %s: %s", e.FilePath, e.Reason)
}

// Unwrap returns the underlying error
func (e *ApplyError) Unwrap() error {
	return e.Underlying
}

// ProcessError represents a failed external process that the task cannot
// recover from (checkout, restore, clone, diff).
type ProcessError struct {
	Type       ErrorType
	Command    string
	Dir        string
	Output     string
	Underlying error
	Timestamp  time.Time
}

// NewProcessError creates a new process error
func NewProcessError(command, dir string, output []byte, err error) *ProcessError {
	return &ProcessError{
		Type:       ErrorTypeProcess,
		Command:    command,
		Dir:        dir,
		Output:     string(output),
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ProcessError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s failed in %s: %v: %s", e.Command, e.Dir, e.Underlying, e.Output)
	}
	return fmt.Sprintf("%s failed in %s: %v", e.Command, e.Dir, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ProcessError) Unwrap() error {
	return e.Underlying
}

// IndexError represents an error while loading, patching or saving an index
type IndexError struct {
	Type        ErrorType
	Key         string
	FilePath    string
	Operation   string
	Underlying  error
	Timestamp   time.Time
	Recoverable bool
}

// NewIndexError creates a new index error with context
func NewIndexError(op, key string, err error) *IndexError {
	return &IndexError{
		Type:       ErrorTypeIndex,
		Key:        key,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithFile adds file information to the error
func (e *IndexError) WithFile(path string) *IndexError {
	e.FilePath = path
	return e
}

// WithRecoverable marks the error as recoverable
func (e *IndexError) WithRecoverable(recoverable bool) *IndexError {
	e.Recoverable = recoverable
	return e
}

// Error implements the error interface
func (e *IndexError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("%s %s failed for %s (%s): %v", e.Type, e.Operation, e.FilePath, e.Key, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed (%s): %v", e.Type, e.Operation, e.Key, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *IndexError) Unwrap() error {
	return e.Underlying
}

// IsRecoverable checks if the error can be retried
func (e *IndexError) IsRecoverable() bool {
	return e.Recoverable
}

// FileError represents a file-related error
type FileError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new file error
func NewFileError(op, path string, err error) *FileError {
	errorType := ErrorTypeFileNotFound
	if errors.Is(err, os.ErrPermission) {
		errorType = ErrorTypePermission
	}

	return &FileError{
		Type:       errorType,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrOrNil returns nil when no errors were collected
func (e *MultiError) ErrOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// IsFatal reports whether err should stop a whole task rather than a round.
func IsFatal(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe)
}
