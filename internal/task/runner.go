package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/standardbeagle/patchloop/internal/config"
	"github.com/standardbeagle/patchloop/internal/debug"
	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/git"
	"github.com/standardbeagle/patchloop/internal/index"
	"github.com/standardbeagle/patchloop/internal/patch"
	"github.com/standardbeagle/patchloop/internal/proposal"
	"github.com/standardbeagle/patchloop/internal/repair"
	"github.com/standardbeagle/patchloop/internal/retrieve"
	"github.com/standardbeagle/patchloop/internal/scan"
	"github.com/standardbeagle/patchloop/internal/segment"
	"github.com/standardbeagle/patchloop/internal/types"
	"github.com/standardbeagle/patchloop/internal/validate"
	"github.com/standardbeagle/patchloop/internal/version"
)

// Repository sources
const (
	RepoLocal  = "local"
	RepoGitHub = "github"
)

// Spec describes one task. Its JSON form is one line of a batch file.
type Spec struct {
	Repo        string         `json:"repo"`
	RepoType    string         `json:"repo_type"`
	Language    types.Language `json:"language"`
	CommitSHA   string         `json:"commit_sha"`
	PriorSHA    string         `json:"last_commit_sha,omitempty"`
	Model       string         `json:"model_name,omitempty"`
	Instruction string         `json:"user_instruction"`
	// Refresh discards any stored index for the commit.
	Refresh bool `json:"refresh,omitempty"`
}

// Validate checks the fields every task needs.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Repo) == "" {
		return plerrors.NewConfigError("repo", s.Repo, errors.New("repository is required"))
	}
	if s.RepoType != "" && s.RepoType != RepoLocal && s.RepoType != RepoGitHub {
		return plerrors.NewConfigError("repo_type", s.RepoType, errors.New("must be local or github"))
	}
	if s.RepoType == RepoGitHub && strings.Count(strings.Trim(s.Repo, "/"), "/") != 1 {
		return plerrors.NewConfigError("repo", s.Repo, errors.New("github repositories are owner/name"))
	}
	if strings.TrimSpace(s.Instruction) == "" {
		return plerrors.NewConfigError("user_instruction", "", errors.New("instruction is required"))
	}
	return nil
}

// ProjectName is the name index entries and reports are filed under.
func (s Spec) ProjectName() string {
	return filepath.Base(filepath.FromSlash(strings.TrimRight(s.Repo, "/")))
}

// ProposerFactory builds the proposer for one task rooted at root.
type ProposerFactory func(spec Spec, root string, cfg *config.Config) (repair.Proposer, error)

// TokenCounter is implemented by proposers that meter model usage.
type TokenCounter interface {
	TokenUsage() int
}

// Runner executes tasks with shared configuration and index store.
type Runner struct {
	// Config is the template every task's configuration is copied from.
	Config *config.Config
	// Home is where github repositories are cloned and where relative
	// local repositories are resolved.
	Home string
	// KeepResult leaves the modified tree in place after a task.
	KeepResult bool

	NewProposer ProposerFactory
	Retriever   retrieve.Retriever
	Summarizer  index.Summarizer
	Store       index.Store

	// OnTransition observes repair phases of every task.
	OnTransition func(spec Spec, state types.RepairState)
}

// NewRunner builds a runner over cfg with the file store from cfg.Index and
// the command proposer.
func NewRunner(cfg *config.Config, home string) (*Runner, error) {
	store, err := index.NewFileStore(cfg.Index.StoreDir, cfg.Index.CacheSize)
	if err != nil {
		return nil, err
	}
	if home == "" {
		home = filepath.Join(config.StateDir(), "repos")
	}
	return &Runner{
		Config:      cfg,
		Home:        home,
		NewProposer: CommandProposer,
		Retriever:   retrieve.NewLexicalRetriever(cfg.Retrieve.MaxDocuments, cfg.Retrieve.MinScore),
		Store:       store,
	}, nil
}

// CommandProposer is the default ProposerFactory: the configured external
// command, retried on rate limits per the proposal policy.
func CommandProposer(spec Spec, root string, cfg *config.Config) (repair.Proposer, error) {
	if strings.TrimSpace(cfg.Proposal.Command) == "" {
		return nil, plerrors.NewConfigError("proposal.command", "", errors.New("no proposer command configured"))
	}
	cmd := proposal.NewCommandProposer(proposal.CommandOptions{
		Command:           cfg.Proposal.Command,
		Dir:               root,
		Model:             spec.Model,
		Language:          cfg.Project.Language,
		RateLimitExitCode: cfg.Proposal.RateLimitExitCode,
	})
	policy := proposal.RetryPolicy{
		MaxAttempts: cfg.Proposal.MaxAttempts,
		Wait:        time.Duration(cfg.Proposal.WaitMs) * time.Millisecond,
		MaxWait:     time.Duration(cfg.Proposal.MaxWaitMs) * time.Millisecond,
		Backoff:     cfg.Proposal.Backoff,
	}
	return &metered{Proposer: proposal.WithRetry(cmd, policy), counter: cmd}, nil
}

// metered keeps the token count reachable through the retry decorator.
type metered struct {
	proposal.Proposer
	counter TokenCounter
}

func (m *metered) TokenUsage() int {
	return m.counter.TokenUsage()
}

// Resolve returns the working tree for spec, cloning github repositories
// into Home when they are not there yet.
func (r *Runner) Resolve(ctx context.Context, spec Spec) (*git.Provider, error) {
	if spec.RepoType == RepoGitHub {
		dest := filepath.Join(r.Home, spec.ProjectName())
		return git.Clone(ctx, git.CloneURL(spec.Repo), dest, false)
	}
	root := spec.Repo
	if !filepath.IsAbs(root) {
		if _, err := os.Stat(root); err != nil {
			root = filepath.Join(r.Home, root)
		}
	}
	return git.NewProvider(root)
}

// configFor copies the template and points it at one project.
func (r *Runner) configFor(spec Spec, root string) (*config.Config, error) {
	c := *r.Config
	c.Project = config.Project{Root: root, Name: spec.ProjectName(), Language: spec.Language}
	if c.Project.Language == "" {
		info, err := config.DetectProject(root)
		if err != nil {
			return nil, plerrors.NewConfigError("language", "", err)
		}
		c.ApplyDetected(info)
	}
	return &c, nil
}

// Run executes one task end to end and writes its report. A task that
// does not converge is a successful Run with Report.Success false; the
// error is reserved for failures that stop the task itself.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Report, error) {
	start := time.Now()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	repo, err := r.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	cfg, err := r.configFor(spec, repo.GetRepoRoot())
	if err != nil {
		return nil, err
	}

	ws, err := Acquire(ctx, repo, spec.CommitSHA)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Release(context.WithoutCancel(ctx), r.KeepResult); err != nil {
			debug.LogGit("release %s: %v\n", ws.Root(), err)
		}
	}()

	report := &Report{
		Repo:      spec.Repo,
		RepoType:  spec.RepoType,
		Language:  cfg.Project.Language,
		CommitSHA: ws.Commit(),
		ModelName: spec.Model,
		Build:     version.BuildID(),
	}
	runErr := r.run(ctx, spec, cfg, ws, report)
	if runErr != nil {
		report.Error = runErr.Error()
	}
	report.RunTime = time.Since(start).Seconds()

	path, err := report.Write(cfg.Output.LogDir, cfg.Project.Name)
	if err != nil {
		return report, errors.Join(runErr, err)
	}
	debug.Log("TASK", "report written to %s\n", path)
	return report, runErr
}

func (r *Runner) run(ctx context.Context, spec Spec, cfg *config.Config, ws *Workspace, report *Report) error {
	scanner := scan.New(cfg)
	files, err := scanner.Files(ctx)
	if err != nil {
		return err
	}

	seg, err := segment.For(cfg.Project.Language)
	if err != nil {
		return err
	}
	if c, ok := seg.(interface{ Close() }); ok {
		defer c.Close()
	}

	builder := index.NewBuilder(ws.Root(), seg, r.Summarizer, 0)
	sync := index.NewSynchronizer(r.Store, ws.Repo(), scanner, builder)
	var plan index.Plan
	if spec.Refresh {
		plan, err = sync.Refresh(ctx, cfg.Project.Name, ws.Commit())
	} else {
		plan, err = sync.Prepare(ctx, cfg.Project.Name, ws.Commit(), r.prior(ctx, spec, ws))
	}
	if err != nil {
		return err
	}
	snap, err := sync.Sync(ctx, plan)
	if err != nil {
		return err
	}
	report.IndexMode = plan.Mode

	matched := r.retriever(cfg).Match(ctx, spec.Instruction, snap.AllDocuments())
	for _, d := range matched {
		report.MatchedDocs = append(report.MatchedDocs, d.ID)
	}
	report.MatchedFiles = retrieve.Files(matched)
	codeContext, err := readContext(scanner, report.MatchedFiles)
	if err != nil {
		return err
	}

	if r.NewProposer == nil {
		return errors.New("runner has no proposer factory")
	}
	proposer, err := r.NewProposer(spec, ws.Root(), cfg)
	if err != nil {
		return err
	}

	loop := repair.NewLoop(
		proposer,
		patch.NewApplier(scanner, files, cfg.Repair.WindowStep),
		validate.New(cfg),
		ws,
		cfg.Repair.MaxIterations,
	)
	if r.OnTransition != nil {
		loop.OnTransition = func(s types.RepairState) { r.OnTransition(spec, s) }
	}

	res, loopErr := loop.Run(ctx, repair.Task{
		Instruction: spec.Instruction,
		Context:     codeContext,
		Language:    cfg.Project.Language,
	})
	report.Success = res.Success
	report.LogMessage = res.Log
	report.Iterations = res.State.Iteration
	report.Rounds = res.Rounds
	if tc, ok := proposer.(TokenCounter); ok {
		report.TokenUsage = tc.TokenUsage()
	}
	if loopErr != nil {
		return loopErr
	}

	diff, err := ws.Diff(ctx)
	if err != nil {
		return err
	}
	report.ModelPatch = diff

	changed, err := ws.Repo().ChangedFiles(ctx)
	if err != nil {
		return err
	}
	report.ChangedFiles = changed
	return nil
}

// prior is the commit whose index may be patched: the task's hint, or the
// parent of the checked-out commit.
func (r *Runner) prior(ctx context.Context, spec Spec, ws *Workspace) string {
	if spec.PriorSHA != "" {
		return spec.PriorSHA
	}
	parent, err := ws.Repo().GetParentCommit(ctx, ws.Commit())
	if err != nil {
		return ""
	}
	return parent
}

func (r *Runner) retriever(cfg *config.Config) retrieve.Retriever {
	if r.Retriever != nil {
		return r.Retriever
	}
	return retrieve.NewLexicalRetriever(cfg.Retrieve.MaxDocuments, cfg.Retrieve.MinScore)
}

// readContext loads the matched files whole and wraps them for the prompt.
func readContext(scanner *scan.Scanner, files []string) (string, error) {
	out := make([]proposal.File, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(scanner.Abs(f))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", plerrors.NewFileError("read", f, err)
		}
		out = append(out, proposal.File{Path: f, Content: string(content)})
	}
	return proposal.BuildContext(out), nil
}
