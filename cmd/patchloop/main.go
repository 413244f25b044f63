package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/patchloop/internal/config"
	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/types"
	"github.com/standardbeagle/patchloop/internal/version"
)

// loadConfigWithOverrides loads configuration for the project at --root
// and applies CLI flag overrides. Project fields are validated only when
// requireProject is set; run and batch take them from each task.
func loadConfigWithOverrides(c *cli.Context, requireProject bool) (*config.Config, error) {
	root := c.String("root")
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path %q: %w", root, err)
	}

	cfg, err := config.LoadWithRoot(c.String("config"), absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("root") {
		cfg.Project.Root = absRoot
	}
	if includeFlags := c.StringSlice("include"); len(includeFlags) > 0 {
		cfg.Include = includeFlags
	}
	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludeFlags...)
	}
	if lang := c.String("language"); lang != "" {
		parsed, err := types.ParseLanguage(lang)
		if err != nil {
			return nil, err
		}
		cfg.Project.Language = parsed
	}
	if cmd := c.String("proposer"); cmd != "" {
		cfg.Proposal.Command = cmd
	}

	if requireProject {
		return cfg, config.ValidateConfig(cfg)
	}

	// validate everything but the project section
	probe := *cfg
	probe.Project = config.Project{Root: absRoot, Name: "template", Language: types.LanguageFlutter}
	if err := config.ValidateConfig(&probe); err != nil {
		return nil, err
	}
	probe.Project = cfg.Project
	return &probe, nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "patchloop",
		Usage:                  "Apply model-proposed code edits, check them, and retry until they compile",
		Version:                version.FullInfo(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: <root>/" + config.ConfigFileName + ")",
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root directory (overrides config)",
			},
			&cli.StringFlag{
				Name:    "language",
				Aliases: []string{"l"},
				Usage:   "Project language (flutter, python, go, ...); detected when omitted",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Only consider files matching glob patterns",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Skip files matching glob patterns",
			},
			&cli.StringFlag{
				Name:  "proposer",
				Usage: "Command that turns a prompt on stdin into modification records on stdout",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Environment file loaded before running (default .env, ignored when missing)",
			},
			&cli.BoolFlag{
				Name:  "debug-log",
				Usage: "Write debug output to a file in the temp directory",
			},
		},
		Before: func(c *cli.Context) error {
			if err := loadEnv(c.String("env-file")); err != nil {
				return err
			}
			if c.Bool("debug-log") {
				path, err := debug.InitDebugLogFile()
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.ErrWriter, "debug log: %s\n", path)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			return debug.CloseDebugLog()
		},
		Commands: commands(),
	}
}

// loadEnv reads KEY=value pairs for the proposer command's environment.
// An explicitly named file must exist; the default .env is optional.
func loadEnv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}
