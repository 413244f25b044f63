// Package security screens file content before it is segmented and indexed.
package security

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// HeaderSize is how much of a file the checks look at.
const HeaderSize = 64 * 1024

// ErrBinary is returned for content that is not text.
var ErrBinary = errors.New("content appears to be binary")

// signatures of formats that turn up in source trees under code suffixes
var signatures = []struct {
	name  string
	magic []byte
}{
	{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"gif", []byte("GIF8")},
	{"pdf", []byte("%PDF-")},
	{"zip", []byte{0x50, 0x4B, 0x03, 0x04}},
	{"gzip", []byte{0x1F, 0x8B}},
	{"elf", []byte{0x7F, 'E', 'L', 'F'}},
	{"pe", []byte("MZ")},
	{"wasm", []byte{0x00, 'a', 's', 'm'}},
}

// CheckSource returns an error when content cannot be a source file named
// path: a known binary signature, a NUL byte or mostly control characters
// in the header.
func CheckSource(path string, content []byte) error {
	header := content
	if len(header) > HeaderSize {
		header = header[:HeaderSize]
	}

	for _, sig := range signatures {
		// "MZ" is too short to trust without a NUL nearby
		if sig.name == "pe" && bytes.IndexByte(header, 0) < 0 {
			continue
		}
		if bytes.HasPrefix(header, sig.magic) {
			return fmt.Errorf("%s: %s data under a %s suffix: %w", path, sig.name, suffix(path), ErrBinary)
		}
	}
	if bytes.IndexByte(header, 0) >= 0 || IsBinary(header) {
		return fmt.Errorf("%s: %w", path, ErrBinary)
	}
	return nil
}

// IsBinary reports whether more than 30% of data is control characters
// other than tab, LF, VT, FF and CR.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	nonPrintable := 0
	for _, b := range data {
		if b < 9 || (b > 13 && b < 32) || b == 127 {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(data)) > 0.3
}

func suffix(path string) string {
	if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
		return ext
	}
	return "bare"
}
