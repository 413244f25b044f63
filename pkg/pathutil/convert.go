// Package pathutil converts paths to project-relative form at output
// boundaries. Proposals and user input may name files either way; what is
// shown back is relative to the project root.
package pathutil

import (
	"path/filepath"
	"strings"

	"github.com/standardbeagle/patchloop/internal/patch"
)

// ToRelative converts an absolute path to relative based on a root directory.
// Falls back to the original path if conversion fails or path is already relative.
//
// Examples:
//   - ToRelative("/home/user/shop/lib/cart.dart", "/home/user/shop") → "lib/cart.dart"
//   - ToRelative("/other/location/file.dart", "/home/user/shop") → "/other/location/file.dart" (outside root)
//   - ToRelative("lib/cart.dart", "/home/user/shop") → "lib/cart.dart" (already relative)
func ToRelative(absPath, rootDir string) string {
	// Handle empty inputs
	if absPath == "" || rootDir == "" {
		return absPath
	}

	// If path is already relative, return as-is
	if !filepath.IsAbs(absPath) {
		return absPath
	}

	// Clean both paths to normalize separators and remove redundant elements
	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	// Try to make relative
	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		// Conversion failed (e.g., different drives on Windows) - return absolute
		return absPath
	}

	// If the relative path starts with ".." it means the file is outside the root
	// In this case, return the absolute path as it's clearer
	if strings.HasPrefix(relPath, "..") {
		return absPath
	}

	return relPath
}

// ToRelativeResults returns a copy of apply results whose file paths are
// relative to rootDir. Rejected modifications keep the path as proposed,
// which may be absolute.
func ToRelativeResults(results []patch.Result, rootDir string) []patch.Result {
	if len(results) == 0 {
		return results
	}

	converted := make([]patch.Result, len(results))
	copy(converted, results)
	for i := range converted {
		converted[i].FilePath = filepath.ToSlash(ToRelative(converted[i].FilePath, rootDir))
	}
	return converted
}
