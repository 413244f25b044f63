// Package git wraps the git CLI for the operations a repair task needs:
// checking out a commit, restoring the working tree to clean, producing the
// working-tree diff, and classifying the files changed between two commits.
package git

// FileChangeStatus indicates the type of change to a file
type FileChangeStatus string

const (
	FileStatusAdded     FileChangeStatus = "added"
	FileStatusModified  FileChangeStatus = "modified"
	FileStatusDeleted   FileChangeStatus = "deleted"
	FileStatusRenamed   FileChangeStatus = "renamed"
	FileStatusCopied    FileChangeStatus = "copied"
	FileStatusUntracked FileChangeStatus = "untracked"
)

// ChangedFile represents a file affected by git changes
type ChangedFile struct {
	// Path is the current file path
	Path string `json:"path"`

	// OldPath is the previous path (for renames and copies)
	OldPath string `json:"old_path,omitempty"`

	// Status indicates the type of change
	Status FileChangeStatus `json:"status"`
}

// StatusEntry is one line of `git status --porcelain`.
type StatusEntry struct {
	Index    byte   `json:"index"`    // X column
	Worktree byte   `json:"worktree"` // Y column
	Path     string `json:"path"`
}

// HeaderKind is how a per-file diff header was classified.
type HeaderKind string

const (
	HeaderDeleted    HeaderKind = "deleted"
	HeaderAdded      HeaderKind = "added"
	HeaderEdited     HeaderKind = "edited"
	HeaderRenamed    HeaderKind = "renamed"
	HeaderCopied     HeaderKind = "copied"
	HeaderModeChange HeaderKind = "mode_change"
	HeaderUnknown    HeaderKind = "unknown"
)

// FileDelta is one `diff --git a/X b/Y` block after classification.
// Old is set when documents for OldPath must be removed, New when
// documents for NewPath must be (re)built.
type FileDelta struct {
	OldPath string     `json:"old_path"`
	NewPath string     `json:"new_path"`
	Kind    HeaderKind `json:"kind"`
	Old     bool       `json:"old"`
	New     bool       `json:"new"`
}

// DiffClassification is the set view the index synchronizer consumes.
// Both slices are sorted and de-duplicated.
type DiffClassification struct {
	Deltas   []FileDelta `json:"deltas"`
	OldFiles []string    `json:"old_files"`
	NewFiles []string    `json:"new_files"`
}
