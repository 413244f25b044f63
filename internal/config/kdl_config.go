package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/standardbeagle/patchloop/internal/types"
)

// LoadKDL attempts to load configuration from the .patchloop.kdl file in dir.
// It returns nil, nil when the file does not exist.
func LoadKDL(projectRoot string) (*Config, error) {
	kdlPath := filepath.Join(projectRoot, ConfigFileName)

	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ConfigFileName, err)
	}

	absDir := absOr(projectRoot)
	cfg, err := parseKDL(string(content), absDir)
	if err != nil {
		return nil, err
	}

	// Relative paths resolve against the directory holding the config file,
	// store and log dirs against the project root
	cfg.Project.Root = resolveAgainst(absDir, cfg.Project.Root)
	cfg.Index.StoreDir = resolveAgainst(cfg.Project.Root, cfg.Index.StoreDir)
	cfg.Output.LogDir = resolveAgainst(cfg.Project.Root, cfg.Output.LogDir)

	return cfg, nil
}

func resolveAgainst(base, p string) string {
	if p == "" {
		return base
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(base, p))
}

func parseKDL(content, defaultRoot string) (*Config, error) {
	if defaultRoot == "" {
		defaultRoot = "."
	}
	cfg := Default(defaultRoot)

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
				if nodeName(cn) == "language" {
					if s, ok := firstStringArg(cn); ok {
						lang, err := types.ParseLanguage(s)
						if err != nil {
							return nil, fmt.Errorf("project.language: %w", err)
						}
						cfg.Project.Language = lang
					}
				}
			}
		case "repair":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_iterations":
					if v, ok := firstIntArg(cn); ok {
						cfg.Repair.MaxIterations = v
					}
				case "window_step":
					if v, ok := firstIntArg(cn); ok {
						cfg.Repair.WindowStep = v
					}
				}
			}
		case "validate":
			if err := parseValidateSection(cfg, n); err != nil {
				return nil, err
			}
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "store_dir":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.StoreDir = s
					}
				case "cache_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.CacheSize = v
					}
				case "max_file_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.MaxFileSize = int64(v)
					}
					if s, ok := firstStringArg(cn); ok {
						if sz, err := parseSize(s); err == nil {
							cfg.Index.MaxFileSize = sz
						}
					}
				case "summarize", "chunk_summaries":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.Summarize = b
					}
				}
			}
		case "proposal":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "command":
					if s, ok := firstStringArg(cn); ok {
						cfg.Proposal.Command = s
					}
				case "max_attempts":
					if v, ok := firstIntArg(cn); ok {
						cfg.Proposal.MaxAttempts = v
					}
				case "wait_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Proposal.WaitMs = v
					}
				case "max_wait_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Proposal.MaxWaitMs = v
					}
				case "backoff":
					if s, ok := firstStringArg(cn); ok {
						cfg.Proposal.Backoff = strings.ToLower(s)
					}
				case "rate_limit_exit_code":
					if v, ok := firstIntArg(cn); ok {
						cfg.Proposal.RateLimitExitCode = v
					}
				}
			}
		case "retrieve":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_documents":
					if v, ok := firstIntArg(cn); ok {
						cfg.Retrieve.MaxDocuments = v
					}
				case "min_score":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Retrieve.MinScore = v
					}
				}
			}
		case "output":
			for _, cn := range n.Children {
				assignSimpleString(cn, "log_dir", func(v string) { cfg.Output.LogDir = v })
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			cfg.Exclude = append(cfg.Exclude, collectStringArgs(n)...)
		}
	}

	return cfg, nil
}

// parseValidateSection reads
//
//	validate {
//	    timeout_sec 60
//	    command "python" "python -m py_compile {file}"
//	    stdin "flutter" "y\ny\n"
//	}
func parseValidateSection(cfg *Config, n *document.Node) error {
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "timeout_sec":
			if v, ok := firstIntArg(cn); ok {
				cfg.Validate.TimeoutSec = v
			}
		case "command", "stdin":
			args := collectStringArgs(cn)
			if len(args) != 2 {
				return fmt.Errorf("validate.%s expects a language and a value, got %d arguments", nodeName(cn), len(args))
			}
			lang, err := types.ParseLanguage(args[0])
			if err != nil {
				return fmt.Errorf("validate.%s: %w", nodeName(cn), err)
			}
			if nodeName(cn) == "command" {
				cfg.Validate.Commands[lang] = args[1]
			} else {
				cfg.Validate.Stdin[lang] = args[1]
			}
		}
	}
	return nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		log.Printf("WARNING: invalid float value for '%s' in KDL config, expected number but got %T", nodeName(n), n.Arguments[0].Value)
		return 0, false
	}
}

// collectStringArgs accepts both inline (exclude "a" "b") and block
// (exclude { "a"; "b" }) forms.
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}

	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

// parseSize handles size strings like "10MB", "500KB", "1GB"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// getDefaultExclusions lists paths that never hold patchable project sources.
func getDefaultExclusions() []string {
	return []string{
		"**/.git/**",
		"**/.patchloop/**",
		"**/.dart_tool/**",
		"**/.fvm/**",
		"**/.idea/**",
		"**/.vscode/**",

		// Dependencies
		"**/node_modules/**",
		"**/vendor/**",
		"**/bower_components/**",
		"**/venv/**",
		"**/.venv/**",
		"**/site-packages/**",
		"**/Pods/**",

		// Build output
		"**/dist/**",
		"**/build/**",
		"**/out/**",
		"**/target/**",
		"**/bin/**",
		"**/obj/**",
		"**/zig-out/**",
		"**/.zig-cache/**",
		"**/*.min.js",
		"**/*.bundle.js",

		// Generated sources
		"**/*.g.dart",
		"**/*.freezed.dart",
		"**/*.pb.go",

		// Caches
		"**/__pycache__/**",
		"**/.pytest_cache/**",
		"**/.mypy_cache/**",
		"**/.cache/**",
	}
}
