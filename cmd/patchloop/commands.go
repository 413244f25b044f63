package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/patchloop/internal/config"
	"github.com/standardbeagle/patchloop/internal/debug"
	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/git"
	"github.com/standardbeagle/patchloop/internal/index"
	"github.com/standardbeagle/patchloop/internal/locate"
	"github.com/standardbeagle/patchloop/internal/mcp"
	"github.com/standardbeagle/patchloop/internal/patch"
	"github.com/standardbeagle/patchloop/internal/proposal"
	"github.com/standardbeagle/patchloop/internal/scan"
	"github.com/standardbeagle/patchloop/internal/segment"
	"github.com/standardbeagle/patchloop/internal/task"
	"github.com/standardbeagle/patchloop/internal/types"
	"github.com/standardbeagle/patchloop/internal/validate"
	"github.com/standardbeagle/patchloop/pkg/pathutil"
)

var jsonFlag = &cli.BoolFlag{
	Name:    "json",
	Aliases: []string{"j"},
	Usage:   "Output as JSON",
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "run",
			Usage: "Run one repair task and write its report",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "repo", Usage: "Local path or owner/name (default: --root)"},
				&cli.StringFlag{Name: "repo-type", Usage: "local or github", Value: task.RepoLocal},
				&cli.StringFlag{Name: "commit", Usage: "Commit to check out (default HEAD)"},
				&cli.StringFlag{Name: "prior", Usage: "Commit whose index may be patched instead of rebuilt"},
				&cli.StringFlag{Name: "model", Usage: "Model name passed to the proposer"},
				&cli.StringFlag{Name: "instruction", Aliases: []string{"i"}, Usage: "Change request", Required: true},
				&cli.StringFlag{Name: "home", Usage: "Where github repositories are cloned"},
				&cli.BoolFlag{Name: "keep", Usage: "Leave the modified tree in place"},
				&cli.BoolFlag{Name: "refresh", Usage: "Rebuild the index for the commit"},
				jsonFlag,
			},
			Action: runCommand,
		},
		{
			Name:      "batch",
			Usage:     "Run tasks from a JSON lines file, one repository per worker",
			ArgsUsage: "<tasks.jsonl|->",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "parallel", Aliases: []string{"p"}, Usage: "Repositories processed at once", Value: 4},
				&cli.StringFlag{Name: "home", Usage: "Where github repositories are cloned"},
			},
			Action: batchCommand,
		},
		{
			Name:      "locate",
			Usage:     "Find an excerpt in a file near a claimed line range",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "position", Usage: "Claimed range \"start,end\""},
				&cli.StringFlag{Name: "original", Usage: "Excerpt to find"},
				&cli.IntFlag{Name: "step", Usage: "Lines added on each side per widening"},
				jsonFlag,
			},
			Action: locateCommand,
		},
		{
			Name:  "apply",
			Usage: "Apply one modification to the working tree",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "file", Usage: "Project file to modify"},
				&cli.StringFlag{Name: "position", Usage: "Claimed range \"start,end\""},
				&cli.StringFlag{Name: "original", Usage: "Code to replace"},
				&cli.StringFlag{Name: "patched", Usage: "Replacement code"},
				&cli.StringFlag{Name: "records", Usage: "File with # modification records (- for stdin); replaces the other flags"},
				jsonFlag,
			},
			Action: applyCommand,
		},
		{
			Name:      "validate",
			Usage:     "Run the project checker for files",
			ArgsUsage: "<file>...",
			Action:    validateCommand,
		},
		{
			Name:      "segment",
			Usage:     "Split a source file into units",
			ArgsUsage: "<file>",
			Flags:     []cli.Flag{jsonFlag},
			Action:    segmentCommand,
		},
		{
			Name:  "index",
			Usage: "Inspect or update the per-commit index",
			Subcommands: []*cli.Command{
				{
					Name:   "plan",
					Usage:  "Show whether the index would be reused, patched or rebuilt",
					Flags:  indexFlags(),
					Action: indexPlanCommand,
				},
				{
					Name:   "sync",
					Usage:  "Bring the index for a commit up to date",
					Flags:  indexFlags(),
					Action: indexSyncCommand,
				},
			},
		},
		{
			Name:   "diff",
			Usage:  "Print the working tree diff, ignoring whitespace-amount changes",
			Action: diffCommand,
		},
		{
			Name:   "mcp",
			Usage:  "Serve the tools over the Model Context Protocol on stdio",
			Action: mcpCommand,
		},
		{
			Name:  "config",
			Usage: "Configuration management",
			Subcommands: []*cli.Command{
				{
					Name:   "show",
					Usage:  "Print the effective configuration",
					Action: configShowCommand,
				},
				{
					Name:   "validate",
					Usage:  "Check the configuration",
					Action: configValidateCommand,
				},
			},
		},
	}
}

func indexFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "commit", Usage: "Commit to index (default HEAD)"},
		&cli.StringFlag{Name: "prior", Usage: "Commit whose index may be patched"},
		&cli.BoolFlag{Name: "refresh", Usage: "Discard the stored index and rebuild"},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c, false)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	runner, err := task.NewRunner(cfg, c.String("home"))
	if err != nil {
		return err
	}
	runner.KeepResult = c.Bool("keep")
	runner.OnTransition = func(spec task.Spec, s types.RepairState) {
		debug.LogRepair("%s: iteration %d %s\n", spec.Repo, s.Iteration, s.Phase)
	}

	repo := c.String("repo")
	var lang types.Language
	if repo == "" {
		repo, lang = cfg.Project.Root, cfg.Project.Language
	} else if c.IsSet("language") {
		lang = cfg.Project.Language
	}
	spec := task.Spec{
		Repo:        repo,
		RepoType:    c.String("repo-type"),
		Language:    lang,
		CommitSHA:   c.String("commit"),
		PriorSHA:    c.String("prior"),
		Model:       c.String("model"),
		Instruction: c.String("instruction"),
		Refresh:     c.Bool("refresh"),
	}

	report, err := runner.Run(ctx, spec)
	if report != nil {
		if c.Bool("json") {
			if perr := printJSON(c.App.Writer, report); perr != nil {
				return perr
			}
		} else {
			fmt.Fprintf(c.App.Writer, "%s@%s index=%s success=%v iterations=%d matched=%s\n",
				report.Repo, report.CommitSHA, report.IndexMode, report.Success, report.Iterations,
				strings.Join(report.MatchedFiles, ","))
			fmt.Fprint(c.App.Writer, report.ModelPatch)
		}
	}
	if err != nil {
		return err
	}
	if !report.Success {
		return cli.Exit("", 2)
	}
	return nil
}

func batchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("batch needs one tasks file (or - for stdin)", 1)
	}
	cfg, err := loadConfigWithOverrides(c, false)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if name := c.Args().First(); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return plerrors.NewFileError("open", name, err)
		}
		defer f.Close()
		in = f
	}
	specs, err := task.ReadSpecs(in)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()
	runner, err := task.NewRunner(cfg, c.String("home"))
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range runner.Batch(ctx, specs, c.Int("parallel")) {
		switch {
		case o.Err != nil:
			failed++
			fmt.Fprintf(c.App.Writer, "ERROR %s@%s: %v\n", o.Spec.Repo, o.Spec.CommitSHA, o.Err)
		case o.Report.Success:
			fmt.Fprintf(c.App.Writer, "OK    %s@%s (%d iterations)\n", o.Spec.Repo, o.Report.CommitSHA, o.Report.Iterations)
		default:
			fmt.Fprintf(c.App.Writer, "FAIL  %s@%s (%d iterations)\n", o.Spec.Repo, o.Report.CommitSHA, o.Report.Iterations)
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d tasks errored", failed, len(specs)), 1)
	}
	return nil
}

func locateCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("locate needs one file", 1)
	}
	cfg, err := loadConfigWithOverrides(c, true)
	if err != nil {
		return err
	}
	scanner := scan.New(cfg)
	rel, ok := scanner.Rel(c.Args().First())
	if !ok {
		return fmt.Errorf("%s is outside the project", c.Args().First())
	}
	content, err := os.ReadFile(scanner.Abs(rel))
	if err != nil {
		return plerrors.NewFileError("read", rel, err)
	}
	step := c.Int("step")
	if step <= 0 {
		step = cfg.Repair.WindowStep
	}

	located, err := locate.Locate(locate.SplitLines(string(content)), proposal.ParsePosition(c.String("position")), c.String("original"), step)
	if err != nil && !errors.Is(err, plerrors.ErrNotFound) {
		return err
	}
	if c.Bool("json") {
		if perr := printJSON(c.App.Writer, located); perr != nil {
			return perr
		}
	} else if err == nil {
		fmt.Fprintf(c.App.Writer, "%s: window (%d,%d) after %d expansions, bytes %d..%d\n",
			rel, located.WindowStart, located.WindowEnd, located.Expansions, located.Start, located.End)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("no match in %s after searching lines %d..%d", rel, located.WindowStart, located.WindowEnd), 2)
	}
	return nil
}

func applyCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c, true)
	if err != nil {
		return err
	}
	scanner := scan.New(cfg)
	files, err := scanner.Files(c.Context)
	if err != nil {
		return err
	}

	if c.String("file") == "" && c.String("records") == "" {
		return cli.Exit("apply needs --file or --records", 1)
	}
	mods := []types.Modification{{
		FilePath:    c.String("file"),
		Range:       proposal.ParsePosition(c.String("position")),
		Original:    c.String("original"),
		Replacement: c.String("patched"),
	}}
	if src := c.String("records"); src != "" {
		text, err := readInput(src)
		if err != nil {
			return err
		}
		if mods, err = proposal.Parse(text); err != nil {
			return err
		}
	}

	applier := patch.NewApplier(scanner, files, cfg.Repair.WindowStep)
	results := make([]patch.Result, 0, len(mods))
	ok := true
	for _, m := range mods {
		res := applier.Apply(m)
		results = append(results, res)
		ok = ok && res.Success
	}
	results = pathutil.ToRelativeResults(results, cfg.Project.Root)

	if c.Bool("json") {
		if err := printJSON(c.App.Writer, results); err != nil {
			return err
		}
	} else {
		for i, r := range results {
			fmt.Fprintf(c.App.Writer, "# modification %d\n%s\n", i+1, r.Message)
		}
	}
	if !ok {
		return cli.Exit("", 2)
	}
	return nil
}

func readInput(name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", plerrors.NewFileError("read", name, err)
	}
	return string(data), nil
}

func validateCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("validate needs at least one file", 1)
	}
	cfg, err := loadConfigWithOverrides(c, true)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	scanner := scan.New(cfg)
	v := validate.New(cfg)
	passed := true
	for _, arg := range c.Args().Slice() {
		rel, ok := scanner.Rel(arg)
		if !ok {
			return fmt.Errorf("%s is outside the project", arg)
		}
		res := v.Validate(ctx, rel, cfg.Project.Language)
		fmt.Fprintln(c.App.Writer, validate.Message(res))
		passed = passed && res.Passed
	}
	if !passed {
		return cli.Exit("", 2)
	}
	return nil
}

func segmentCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("segment needs one file", 1)
	}
	cfg, err := loadConfigWithOverrides(c, true)
	if err != nil {
		return err
	}
	scanner := scan.New(cfg)
	rel, ok := scanner.Rel(c.Args().First())
	if !ok {
		return fmt.Errorf("%s is outside the project", c.Args().First())
	}
	content, err := os.ReadFile(scanner.Abs(rel))
	if err != nil {
		return plerrors.NewFileError("read", rel, err)
	}

	seg, err := segment.For(cfg.Project.Language)
	if err != nil {
		return err
	}
	if closer, ok := seg.(interface{ Close() }); ok {
		defer closer.Close()
	}
	units, err := seg.Segment(rel, content)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return printJSON(c.App.Writer, units)
	}
	for _, u := range units {
		name := u.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(c.App.Writer, "%4d-%-4d %-8s %s\n", u.StartLine, u.EndLine, u.Kind, name)
	}
	return nil
}

// openIndex wires a synchronizer for the configured project.
func openIndex(c *cli.Context) (*config.Config, *git.Provider, *index.Synchronizer, func(), error) {
	cfg, err := loadConfigWithOverrides(c, true)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	repo, err := git.NewProvider(cfg.Project.Root)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	store, err := index.NewFileStore(cfg.Index.StoreDir, cfg.Index.CacheSize)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	seg, err := segment.For(cfg.Project.Language)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	cleanup := func() {
		if closer, ok := seg.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	builder := index.NewBuilder(cfg.Project.Root, seg, nil, 0)
	return cfg, repo, index.NewSynchronizer(store, repo, scan.New(cfg), builder), cleanup, nil
}

func planFor(c *cli.Context, cfg *config.Config, repo *git.Provider, sync *index.Synchronizer) (index.Plan, error) {
	ref := c.String("commit")
	if ref == "" {
		ref = "HEAD"
	}
	commit, err := repo.GetCommitHash(c.Context, ref)
	if err != nil {
		return index.Plan{}, err
	}
	if c.Bool("refresh") {
		return sync.Refresh(c.Context, cfg.Project.Name, commit)
	}
	return sync.Prepare(c.Context, cfg.Project.Name, commit, c.String("prior"))
}

func indexPlanCommand(c *cli.Context) error {
	cfg, repo, sync, cleanup, err := openIndex(c)
	if err != nil {
		return err
	}
	defer cleanup()
	if c.Bool("refresh") {
		return cli.Exit("plan does not modify the index; use index sync --refresh", 1)
	}
	plan, err := planFor(c, cfg, repo, sync)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, plan)
}

func indexSyncCommand(c *cli.Context) error {
	cfg, repo, sync, cleanup, err := openIndex(c)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx, cancel := signalContext(c)
	defer cancel()
	c.Context = ctx

	plan, err := planFor(c, cfg, repo, sync)
	if err != nil {
		return err
	}
	snap, err := sync.Sync(ctx, plan)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: %s, %d files, %d documents\n", plan.Key, plan.Mode, len(snap.Entry), len(snap.Documents))
	return nil
}

func diffCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c, false)
	if err != nil {
		return err
	}
	repo, err := git.NewProvider(cfg.Project.Root)
	if err != nil {
		return err
	}
	diff, err := repo.WorkingDiff(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprint(c.App.Writer, diff)
	return nil
}

func mcpCommand(c *cli.Context) error {
	// stdout carries the protocol
	debug.SetQuietMode(true)

	cfg, err := loadConfigWithOverrides(c, true)
	if err != nil {
		return debug.Fatal("failed to load config: %v\n", err)
	}
	store, err := index.NewFileStore(cfg.Index.StoreDir, cfg.Index.CacheSize)
	if err != nil {
		return debug.Fatal("failed to open index store: %v\n", err)
	}
	server, err := mcp.NewServer(cfg, store)
	if err != nil {
		return debug.Fatal("failed to create MCP server: %v\n", err)
	}

	ctx, cancel := signalContext(c)
	defer cancel()
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return debug.Fatal("MCP server error: %v\n", err)
	}
	return nil
}

func configShowCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c, false)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, cfg)
}

func configValidateCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c, true)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "configuration ok: %s (%s) at %s\n", cfg.Project.Name, cfg.Project.Language, cfg.Project.Root)
	return nil
}
