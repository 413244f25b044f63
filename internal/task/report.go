package task

import (
	"encoding/json"
	"os"
	"path/filepath"

	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/git"
	"github.com/standardbeagle/patchloop/internal/index"
	"github.com/standardbeagle/patchloop/internal/repair"
	"github.com/standardbeagle/patchloop/internal/types"
)

// Report is the record of one task, written as <project>_<sha>_log.json.
type Report struct {
	Repo         string            `json:"repo"`
	RepoType     string            `json:"repo_type"`
	Language     types.Language    `json:"language"`
	CommitSHA    string            `json:"commit_sha"`
	TokenUsage   int               `json:"token_usage"`
	ModelPatch   string            `json:"model_patch"`
	ChangedFiles []git.ChangedFile `json:"changed_files,omitempty"`
	ModelName    string            `json:"model_name"`
	RunTime      float64           `json:"run_time"`
	MatchedDocs  []string          `json:"matched_docs"`
	MatchedFiles []string          `json:"matched_files"`
	IndexMode    index.Mode        `json:"index_mode,omitempty"`
	LogMessage   string            `json:"log_message"`
	Success      bool              `json:"success"`
	Iterations   int               `json:"iterations"`
	Rounds       []repair.Round    `json:"rounds,omitempty"`
	Error        string            `json:"error,omitempty"`
	Build        string            `json:"build_id,omitempty"`
}

// FileName is the report's name inside the log directory.
func (r *Report) FileName(project string) string {
	return project + "_" + r.CommitSHA + "_log.json"
}

// Write stores the report in dir, replacing an earlier report of the same
// project and commit, and returns its path.
func (r *Report) Write(dir, project string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", plerrors.NewFileError("mkdir", dir, err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, r.FileName(project))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", plerrors.NewFileError("write", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", plerrors.NewFileError("rename", path, err)
	}
	return path, nil
}

// ReadReport loads a report written by Write.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, plerrors.NewFileError("read", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
