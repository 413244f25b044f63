package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"
)

func TestLocateError(t *testing.T) {
	err := NewLocateError("lib/a.dart", "return 1;", ErrNotFound)

	if err.Type != ErrorTypeLocate {
		t.Errorf("Expected Type to be ErrorTypeLocate, got %v", err.Type)
	}

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected error to unwrap to ErrNotFound")
	}

	expectedMsg := "no match for <original>return 1;</original> in lib/a.dart: snippet not found"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestApplyError(t *testing.T) {
	underlying := errors.New("disk full")
	err := NewApplyError("a.py", "write failed", underlying)

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}

	expectedMsg := "apply a.py: write failed: disk full"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}

	bare := NewApplyError("a.py", "not a source file", nil)
	if bare.Error() != "apply a.py: not a source file" {
		t.Errorf("Unexpected message %q", bare.Error())
	}
}

func TestProcessError(t *testing.T) {
	underlying := errors.New("exit status 128")
	err := NewProcessError("git checkout abc", "/repo", []byte("fatal: bad ref"), underlying)

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}

	if !IsFatal(err) {
		t.Errorf("Expected process error to be fatal")
	}

	wrapped := fmt.Errorf("restore: %w", err)
	if !IsFatal(wrapped) {
		t.Errorf("Expected wrapped process error to be fatal")
	}

	if IsFatal(NewApplyError("a", "b", nil)) {
		t.Errorf("Apply errors must not be fatal")
	}

	if !strings.Contains(err.Error(), "fatal: bad ref") {
		t.Errorf("Expected output in message, got %q", err.Error())
	}
}

func TestIndexError(t *testing.T) {
	underlying := errors.New("corrupt json")
	err := NewIndexError("load", "proj_abc", underlying).
		WithFile("lib/a.dart").
		WithRecoverable(true)

	if err.Type != ErrorTypeIndex {
		t.Errorf("Expected Type to be ErrorTypeIndex, got %v", err.Type)
	}

	if !err.IsRecoverable() {
		t.Errorf("Expected error to be marked as recoverable")
	}

	expectedMsg := "index load failed for lib/a.dart (proj_abc): corrupt json"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestFileError(t *testing.T) {
	err := NewFileError("read", "/path/to/file", fs.ErrPermission)

	if err.Type != ErrorTypePermission {
		t.Errorf("Expected Type to be ErrorTypePermission, got %v", err.Type)
	}

	expectedMsg := "file read failed for /path/to/file: permission denied"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestFileErrorWithNotFound(t *testing.T) {
	err := NewFileError("stat", "/missing/file", fs.ErrNotExist)

	if err.Type != ErrorTypeFileNotFound {
		t.Errorf("Expected Type to be ErrorTypeFileNotFound, got %v", err.Type)
	}
}

func TestConfigError(t *testing.T) {
	underlying := errors.New("invalid value")
	err := NewConfigError("field_name", "invalid_value", underlying)

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}

	expectedMsg := `config error for field field_name (value invalid_value): invalid value`
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestMultiError(t *testing.T) {
	err1 := errors.New("error 1")
	err2 := errors.New("error 2")

	multiErr := NewMultiError([]error{err1, nil, err2})
	if len(multiErr.Errors) != 2 {
		t.Errorf("Expected 2 errors after filtering nil, got %d", len(multiErr.Errors))
	}
	if !strings.HasPrefix(multiErr.Error(), "2 errors: ") {
		t.Errorf("Expected message to start with '2 errors: ', got %q", multiErr.Error())
	}
	if !errors.Is(multiErr, err2) {
		t.Errorf("Expected errors.Is to find err2")
	}

	if NewMultiError(nil).ErrOrNil() != nil {
		t.Errorf("Expected nil from empty multi error")
	}
	if NewMultiError([]error{err1}).Error() != "error 1" {
		t.Errorf("Expected single error message passthrough")
	}
}

func TestTimestamp(t *testing.T) {
	err := NewIndexError("save", "k", errors.New("test"))
	if err.Timestamp.IsZero() {
		t.Errorf("Expected non-zero timestamp")
	}

	now := time.Now()
	if err.Timestamp.After(now) || now.Sub(err.Timestamp) > time.Second {
		t.Errorf("Timestamp seems incorrect: %v", err.Timestamp)
	}
}
