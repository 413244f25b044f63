package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/patchloop/internal/types"
)

func TestParseKDL_Defaults(t *testing.T) {
	cfg, err := parseKDL("", "/work/app")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/work/app", cfg.Project.Root)
	assert.Equal(t, types.DefaultMaxIterations, cfg.Repair.MaxIterations)
	assert.Equal(t, types.DefaultWindowStep, cfg.Repair.WindowStep)
	assert.Equal(t, 120, cfg.Validate.TimeoutSec)
	assert.Equal(t, "fvm dart analyze", cfg.Validate.Commands[types.LanguageFlutter])
	assert.Equal(t, "y\ny\ny\ny\n", cfg.Validate.Stdin[types.LanguageFlutter])
	assert.Equal(t, types.DefaultMaxDocuments, cfg.Retrieve.MaxDocuments)
	assert.Contains(t, cfg.Exclude, "**/.git/**")
}

func TestParseKDL_AllSections(t *testing.T) {
	kdlContent := `
project {
    name "shop"
    language "dart"
}
repair {
    max_iterations 5
    window_step 8
}
validate {
    timeout_sec 30
    command "python" "python3 -m py_compile {file}"
    stdin "python" "n\n"
}
index {
    store_dir "/var/lib/patchloop"
    cache_size 16
    max_file_size "2MB"
    summarize true
}
proposal {
    command "./propose.sh"
    max_attempts 4
    wait_ms 100
    max_wait_ms 800
    backoff "Exponential"
    rate_limit_exit_code 42
}
retrieve {
    max_documents 6
    min_score 0.25
}
output {
    log_dir "reports"
}
include "lib/**"
exclude "**/generated/**" "**/*.mocks.dart"
`
	cfg, err := parseKDL(kdlContent, "/work/app")
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.Project.Name)
	assert.Equal(t, types.LanguageFlutter, cfg.Project.Language)
	assert.Equal(t, 5, cfg.Repair.MaxIterations)
	assert.Equal(t, 8, cfg.Repair.WindowStep)
	assert.Equal(t, 30, cfg.Validate.TimeoutSec)
	assert.Equal(t, "python3 -m py_compile {file}", cfg.Validate.Commands[types.LanguagePython])
	assert.Equal(t, "n\n", cfg.Validate.Stdin[types.LanguagePython])
	assert.Equal(t, "fvm dart analyze", cfg.Validate.Commands[types.LanguageFlutter], "untouched defaults survive")
	assert.Equal(t, "/var/lib/patchloop", cfg.Index.StoreDir)
	assert.Equal(t, 16, cfg.Index.CacheSize)
	assert.Equal(t, int64(2*1024*1024), cfg.Index.MaxFileSize)
	assert.True(t, cfg.Index.Summarize)
	assert.Equal(t, "./propose.sh", cfg.Proposal.Command)
	assert.Equal(t, 4, cfg.Proposal.MaxAttempts)
	assert.Equal(t, 100, cfg.Proposal.WaitMs)
	assert.Equal(t, 800, cfg.Proposal.MaxWaitMs)
	assert.Equal(t, "exponential", cfg.Proposal.Backoff)
	assert.Equal(t, 42, cfg.Proposal.RateLimitExitCode)
	assert.Equal(t, 6, cfg.Retrieve.MaxDocuments)
	assert.InDelta(t, 0.25, cfg.Retrieve.MinScore, 1e-9)
	assert.Equal(t, "reports", cfg.Output.LogDir)
	assert.Equal(t, []string{"lib/**"}, cfg.Include)
	assert.Contains(t, cfg.Exclude, "**/generated/**")
	assert.Contains(t, cfg.Exclude, "**/*.mocks.dart")
}

func TestParseKDL_BlockExclude(t *testing.T) {
	kdlContent := `
exclude {
    "**/fixtures/**"
    "**/*.snap"
}
`
	cfg, err := parseKDL(kdlContent, "/r")
	require.NoError(t, err)
	assert.Contains(t, cfg.Exclude, "**/fixtures/**")
	assert.Contains(t, cfg.Exclude, "**/*.snap")
}

func TestParseKDL_Errors(t *testing.T) {
	_, err := parseKDL("project {\n    language \"cobol\"\n}\n", "/r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project.language")

	_, err = parseKDL("validate {\n    command \"python\"\n}\n", "/r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate.command")

	_, err = parseKDL(`project {`, "/r")
	assert.Error(t, err)
}

func TestParseKDL_BlockForms(t *testing.T) {
	multiLine := `
project {
    name "demo"
    language "python"
}
repair {
    max_iterations 2
}
`
	cfg, err := parseKDL(multiLine, "/r")
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, types.LanguagePython, cfg.Project.Language)
	assert.Equal(t, 2, cfg.Repair.MaxIterations)

	// A child on the brace line needs its own terminator before the closing brace.
	_, err = parseKDL(`repair { max_iterations 2 }`, "/r")
	assert.Error(t, err)
}

func TestLoadKDL_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	content := `
project {
    root "app"
}
index {
    store_dir "cache/idx"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))

	cfg, err := LoadKDL(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, filepath.Join(dir, "app"), cfg.Project.Root)
	assert.Equal(t, filepath.Join(dir, "app", "cache", "idx"), cfg.Index.StoreDir)
	assert.Equal(t, filepath.Join(StateDir(), "logs"), cfg.Output.LogDir)
}

func TestLoadKDL_Missing(t *testing.T) {
	cfg, err := LoadKDL(t.TempDir())
	assert.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10MB", 10 * 1024 * 1024},
		{"500kb", 500 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"42B", 42},
		{"7", 7},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseSize("lots")
	assert.Error(t, err)
}
