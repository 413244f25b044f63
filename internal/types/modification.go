package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyReplacement rejects a modification whose patched text is empty or a placeholder.
	ErrEmptyReplacement = errors.New("replacement text is empty")
	// ErrNoLocation rejects a modification that has neither a line range nor an excerpt.
	ErrNoLocation = errors.New("modification has neither position nor original code")
)

// LineRange is a claimed span of zero-based line indices, end exclusive.
// Indices match the "[i]line" numbering handed to the proposer.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// String renders the range the way proposals spell it ("start,end").
func (r LineRange) String() string {
	return fmt.Sprintf("%d,%d", r.Start, r.End)
}

// Modification is one proposed file edit.
type Modification struct {
	FilePath    string     `json:"file_path"`
	Range       *LineRange `json:"claimed_range,omitempty"`
	Original    string     `json:"original_excerpt,omitempty"`
	Replacement string     `json:"replacement_text"`
}

// IsPlaceholder reports whether s carries no usable text.
func IsPlaceholder(s string) bool {
	t := strings.TrimSpace(s)
	return t == "" || t == PlaceholderText
}

// HasOriginal reports whether the modification names text to replace.
// Without it the modification is a pure insertion at Range.Start.
func (m Modification) HasOriginal() bool {
	return !IsPlaceholder(m.Original)
}

// Validate checks the shape invariants before any file is touched.
func (m Modification) Validate() error {
	if IsPlaceholder(m.Replacement) {
		return ErrEmptyReplacement
	}
	if m.Range == nil && !m.HasOriginal() {
		return ErrNoLocation
	}
	return nil
}

// LocatedRange is a span resolved against the current file bytes.
// It is computed fresh for every application attempt.
type LocatedRange struct {
	// Start and End are byte offsets into the whole file.
	Start int `json:"start"`
	End   int `json:"end"`

	// WindowStart and WindowEnd are the line indices of the search window
	// that produced the match (end exclusive).
	WindowStart int `json:"window_start"`
	WindowEnd   int `json:"window_end"`

	// Matched is the file text between Start and End.
	Matched string `json:"matched"`

	// Insertion is set when there was no excerpt; Start==End is the splice point.
	Insertion bool `json:"insertion"`

	// Expansions counts how many times the window grew before the match.
	Expansions int `json:"expansions"`
}
