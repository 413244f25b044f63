// Package patch applies located modifications to project files.
package patch

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/standardbeagle/patchloop/internal/debug"
	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/locate"
	"github.com/standardbeagle/patchloop/internal/scan"
	"github.com/standardbeagle/patchloop/internal/types"
)

// Result describes one application attempt. Message is the text fed back
// to the proposer; it is filled on success and on rejection alike.
type Result struct {
	FilePath string              `json:"file_path"`
	Success  bool                `json:"success"`
	Message  string              `json:"message"`
	Located  *types.LocatedRange `json:"located,omitempty"`

	BeforeHash uint64 `json:"before_hash,omitempty"`
	AfterHash  uint64 `json:"after_hash,omitempty"`
	// Inserted and Deleted count characters changed in the file.
	Inserted int `json:"inserted,omitempty"`
	Deleted  int `json:"deleted,omitempty"`

	Err error `json:"-"`
}

// Applier rewrites project source files. It never writes when a
// modification is rejected. Callers guarantee no concurrent writer to the
// same checkout.
type Applier struct {
	scanner *scan.Scanner
	files   map[string]bool
	step    int
}

// NewApplier builds an applier accepting only the given root-relative files.
func NewApplier(scanner *scan.Scanner, files []string, step int) *Applier {
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[f] = true
	}
	if step <= 0 {
		step = types.DefaultWindowStep
	}
	return &Applier{scanner: scanner, files: set, step: step}
}

// Recognizes reports whether path names a project source file.
func (a *Applier) Recognizes(path string) (string, bool) {
	rel, ok := a.scanner.Rel(path)
	if !ok || !a.files[rel] {
		return "", false
	}
	return rel, true
}

// Apply performs one modification.
func (a *Applier) Apply(mod types.Modification) Result {
	var msg strings.Builder
	res := Result{FilePath: mod.FilePath}

	fail := func(reason string, err error) Result {
		res.Message = msg.String()
		res.Err = plerrors.NewApplyError(mod.FilePath, reason, err)
		debug.LogApply("rejected %s: %s\n", mod.FilePath, reason)
		return res
	}

	rel, ok := a.Recognizes(mod.FilePath)
	if !ok {
		fmt.Fprintf(&msg, "No file: %s found in project directory. Please check the file name again carefully. ", mod.FilePath)
		return fail("not a project source file", nil)
	}
	res.FilePath = rel

	if types.IsPlaceholder(mod.Replacement) {
		msg.WriteString("Patch code is empty. ")
		return fail("empty replacement", types.ErrEmptyReplacement)
	}
	if !mod.HasOriginal() {
		msg.WriteString("Original code is empty. ")
	}
	if mod.Range == nil {
		msg.WriteString("Patch position is empty. Please include position in your output. ")
		if !mod.HasOriginal() {
			return fail("no location", types.ErrNoLocation)
		}
	}

	path := a.scanner.Abs(rel)
	info, err := os.Stat(path)
	if err != nil {
		return fail("stat", plerrors.NewFileError("stat", path, err))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fail("read", plerrors.NewFileError("read", path, err))
	}
	before := string(data)
	lines := locate.SplitLines(before)

	located, err := locate.Locate(lines, mod.Range, mod.Original, a.step)
	if err != nil {
		if errors.Is(err, plerrors.ErrNotFound) {
			fmt.Fprintf(&msg, "No match code snippets: <original>%s</original> found in %s file_path. ", mod.Original, rel)
			return fail("snippet not found", plerrors.NewLocateError(rel, mod.Original, err))
		}
		return fail("locate", err)
	}
	res.Located = &located

	var after string
	if located.Insertion {
		after = before[:located.Start] + mod.Replacement + before[located.Start:]
	} else {
		fmt.Fprintf(&msg, "Match code found at (%d,%d) in file %s. ", located.WindowStart, located.WindowEnd, rel)
		after = replaceInWindow(lines, located, mod.Replacement)
	}

	if err := writeFileAtomic(path, []byte(after), info.Mode().Perm()); err != nil {
		return fail("write", plerrors.NewFileError("write", path, err))
	}

	res.BeforeHash = xxhash.Sum64String(before)
	res.AfterHash = xxhash.Sum64String(after)
	res.Inserted, res.Deleted = changeSize(before, after)
	res.Success = true
	fmt.Fprintf(&msg, "%s file modified successfully. ", rel)
	res.Message = msg.String()

	debug.LogApply("%s: +%d -%d chars (window %d..%d)\n", rel, res.Inserted, res.Deleted, located.WindowStart, located.WindowEnd)
	return res
}

// writeFileAtomic stages data next to path and renames it into place, so a
// failed write never leaves a truncated source file behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// replaceInWindow substitutes the first literal occurrence of the matched
// text inside the search window and reassembles the file.
func replaceInWindow(lines []string, located types.LocatedRange, replacement string) string {
	head := strings.Join(lines[:located.WindowStart], "")
	window := strings.Join(lines[located.WindowStart:located.WindowEnd], "")
	tail := strings.Join(lines[located.WindowEnd:], "")
	return head + strings.Replace(window, located.Matched, replacement, 1) + tail
}

func changeSize(before, after string) (inserted, deleted int) {
	dmp := diffmatchpatch.New()
	for _, d := range dmp.DiffMain(before, after, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		}
	}
	return inserted, deleted
}
