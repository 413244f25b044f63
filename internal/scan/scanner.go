// Package scan enumerates the recognized source files of a project.
package scan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/patchloop/internal/config"
	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/types"
)

// Scanner decides which files under a root belong to the project: the
// language suffix must match, include patterns (if any) must match, and no
// exclude pattern may match. Paths are slash-separated and root relative.
type Scanner struct {
	root        string
	language    types.Language
	include     []string
	exclude     []string
	maxFileSize int64
}

// New builds a scanner from the loaded configuration.
func New(cfg *config.Config) *Scanner {
	return &Scanner{
		root:        cfg.Project.Root,
		language:    cfg.Project.Language,
		include:     append([]string(nil), cfg.Include...),
		exclude:     append([]string(nil), cfg.Exclude...),
		maxFileSize: cfg.Index.MaxFileSize,
	}
}

// NewForLanguage returns a scanner with no include/exclude patterns.
func NewForLanguage(root string, lang types.Language) *Scanner {
	return &Scanner{root: root, language: lang}
}

// Root returns the directory the scanner walks.
func (s *Scanner) Root() string {
	return s.root
}

// Language returns the project language.
func (s *Scanner) Language() types.Language {
	return s.language
}

// Keep reports whether a root-relative path is a project source file.
// It does not touch the filesystem, so it also classifies diff paths of
// files that no longer exist.
func (s *Scanner) Keep(rel string) bool {
	rel = filepath.ToSlash(rel)
	if !s.language.IsSourceFile(rel) {
		return false
	}
	if s.excluded(rel) {
		return false
	}
	return s.included(rel)
}

// Files walks the root and returns every project source file, sorted.
func (s *Scanner) Files(ctx context.Context) ([]string, error) {
	var files []string
	visited := make(map[string]bool)

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == s.root {
				return nil
			}
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			real, err := filepath.EvalSymlinks(path)
			if err != nil || visited[real] {
				return filepath.SkipDir
			}
			visited[real] = true
			if s.excluded(rel) || s.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.Keep(rel) {
			return nil
		}
		if s.maxFileSize > 0 {
			if info, err := d.Info(); err == nil && info.Size() > s.maxFileSize {
				debug.LogIndex("skipping %s: %d bytes exceeds limit\n", rel, info.Size())
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Rel converts a path given by a proposal (absolute or root relative) into
// the scanner's root-relative slash form. ok is false for paths that escape
// the root.
func (s *Scanner) Rel(path string) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", false
	}
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return "", false
		}
		path = rel
	}
	path = filepath.ToSlash(filepath.Clean(path))
	if path == "." || path == ".." || strings.HasPrefix(path, "../") {
		return "", false
	}
	return path, true
}

// Abs joins a root-relative path onto the root.
func (s *Scanner) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.exclude {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

func (s *Scanner) included(rel string) bool {
	if len(s.include) == 0 {
		return true
	}
	for _, pattern := range s.include {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}
