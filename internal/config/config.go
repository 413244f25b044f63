package config

import (
	"os"
	"path/filepath"

	"github.com/standardbeagle/patchloop/internal/types"
)

// ConfigFileName is the per-project (and per-user, in $HOME) config file.
const ConfigFileName = ".patchloop.kdl"

type Config struct {
	Version  int
	Project  Project
	Repair   Repair
	Validate Validate
	Index    Index
	Proposal Proposal
	Retrieve Retrieve
	Output   Output
	Include  []string
	Exclude  []string
}

type Project struct {
	Root     string
	Name     string
	Language types.Language
}

type Repair struct {
	MaxIterations int // Retry rounds after the first proposal
	WindowStep    int // Lines added on each side per locator expansion
}

type Validate struct {
	TimeoutSec int
	// Commands maps a language to a shell command run in the project root.
	// "{file}" is replaced by the shell-quoted relative path of the changed file.
	Commands map[types.Language]string
	// Stdin is fed to the command, e.g. to answer interactive prompts.
	Stdin map[types.Language]string
}

type Index struct {
	StoreDir    string // Where <project>_<sha>.json entries live
	CacheSize   int    // Loaded entries kept in memory
	MaxFileSize int64
	Summarize   bool // Ask the summarizer for per-unit summaries
}

type Proposal struct {
	Command           string // External command that turns a prompt into modification text
	MaxAttempts       int
	WaitMs            int
	MaxWaitMs         int
	Backoff           string // "fixed" or "exponential"
	RateLimitExitCode int
}

type Retrieve struct {
	MaxDocuments int
	MinScore     float64
}

type Output struct {
	LogDir string // Report JSON files
}

func Load(path string) (*Config, error) {
	return LoadWithRoot(path, "")
}

// LoadWithRoot loads ~/.patchloop.kdl and <rootDir>/.patchloop.kdl, with the
// project file overriding the user file except for exclusions, which are unioned.
func LoadWithRoot(path string, rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}
	if path != "" {
		searchDir = filepath.Dir(path)
	}

	homeDir, err := os.UserHomeDir()
	var baseConfig *Config
	if err == nil && homeDir != "" && !samePath(homeDir, searchDir) {
		if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	var projectConfig *Config
	if kdlCfg, err := LoadKDL(searchDir); err != nil {
		return nil, err
	} else if kdlCfg != nil {
		projectConfig = kdlCfg
	}

	var cfg *Config
	switch {
	case baseConfig != nil && projectConfig != nil:
		cfg = mergeConfigs(baseConfig, projectConfig)
	case projectConfig != nil:
		cfg = projectConfig
	case baseConfig != nil:
		cfg = baseConfig
		cfg.Project.Root = absOr(searchDir)
	default:
		cfg = Default(absOr(searchDir))
	}

	if cfg.Project.Name == "" || cfg.Project.Language == "" {
		if info, err := DetectProject(cfg.Project.Root); err == nil {
			cfg.ApplyDetected(info)
		}
	}
	return cfg, nil
}

// Default returns the built-in configuration rooted at root.
func Default(root string) *Config {
	return &Config{
		Version: 1,
		Project: Project{Root: root},
		Repair: Repair{
			MaxIterations: types.DefaultMaxIterations,
			WindowStep:    types.DefaultWindowStep,
		},
		Validate: Validate{
			TimeoutSec: int(types.DefaultValidateTimeout.Seconds()),
			Commands:   DefaultValidateCommands(),
			Stdin:      DefaultValidateStdin(),
		},
		Index: Index{
			StoreDir:    filepath.Join(StateDir(), "index"),
			CacheSize:   64,
			MaxFileSize: types.DefaultMaxFileSize,
		},
		Proposal: Proposal{
			MaxAttempts:       3,
			WaitMs:            30000,
			MaxWaitMs:         120000,
			Backoff:           "fixed",
			RateLimitExitCode: 75,
		},
		Retrieve: Retrieve{
			MaxDocuments: types.DefaultMaxDocuments,
		},
		Output: Output{
			LogDir: filepath.Join(StateDir(), "logs"),
		},
		Include: []string{},
		Exclude: getDefaultExclusions(),
	}
}

// StateDir is where index entries and reports live by default. It is kept
// outside the project because every repair round runs git clean -fd there.
func StateDir() string {
	if dir := os.Getenv("PATCHLOOP_HOME"); dir != "" {
		return dir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "patchloop")
	}
	return filepath.Join(os.TempDir(), "patchloop")
}

// DefaultValidateCommands returns the checker used for each language.
func DefaultValidateCommands() map[types.Language]string {
	return map[types.Language]string{
		types.LanguageFlutter:    "fvm dart analyze",
		types.LanguagePython:     "python -m py_compile {file}",
		types.LanguageGo:         "go vet ./...",
		types.LanguageJavaScript: "node --check {file}",
		types.LanguageTypeScript: "npx tsc --noEmit",
		types.LanguageRust:       "cargo check --quiet",
		types.LanguageJava:       "javac -d \"${TMPDIR:-/tmp}\" {file}",
		types.LanguageCpp:        "g++ -fsyntax-only {file}",
		types.LanguageCSharp:     "dotnet build --nologo -v q",
		types.LanguagePHP:        "php -l {file}",
		types.LanguageZig:        "zig ast-check {file}",
	}
}

// DefaultValidateStdin answers the confirmation prompts fvm asks on first use.
func DefaultValidateStdin() map[types.Language]string {
	return map[types.Language]string{
		types.LanguageFlutter: "y\ny\ny\ny\n",
	}
}

// ApplyDetected fills project fields the config left empty.
func (c *Config) ApplyDetected(info *ProjectInfo) {
	if info == nil {
		return
	}
	if c.Project.Name == "" {
		c.Project.Name = info.Name
	}
	if c.Project.Language == "" {
		c.Project.Language = info.Language
	}
	c.Exclude = unionPatterns(c.Exclude, info.OutputExclusions())
}

// ValidateCommand returns the configured command and stdin for lang.
func (c *Config) ValidateCommand(lang types.Language) (string, string, bool) {
	cmd, ok := c.Validate.Commands[lang]
	if !ok || cmd == "" {
		return "", "", false
	}
	return cmd, c.Validate.Stdin[lang], true
}

// mergeConfigs returns project settings layered on base. Exclusions are
// unioned, inclusions fall back to base when the project declares none, and
// validator commands the project does not mention are inherited.
func mergeConfigs(base, project *Config) *Config {
	merged := *project

	if len(base.Exclude) > 0 {
		merged.Exclude = unionPatterns(base.Exclude, project.Exclude)
	}

	if len(project.Include) == 0 && len(base.Include) > 0 {
		merged.Include = base.Include
	}

	merged.Validate.Commands = mergeLanguageMap(base.Validate.Commands, project.Validate.Commands)
	merged.Validate.Stdin = mergeLanguageMap(base.Validate.Stdin, project.Validate.Stdin)

	if merged.Proposal.Command == "" {
		merged.Proposal.Command = base.Proposal.Command
	}

	return &merged
}

func mergeLanguageMap(base, project map[types.Language]string) map[types.Language]string {
	out := make(map[types.Language]string, len(base)+len(project))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range project {
		out[k] = v
	}
	return out
}

func unionPatterns(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func absOr(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func samePath(a, b string) bool {
	return filepath.Clean(absOr(a)) == filepath.Clean(absOr(b))
}
