package task

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/patchloop/internal/config"
	"github.com/standardbeagle/patchloop/internal/git"
	"github.com/standardbeagle/patchloop/internal/index"
	"github.com/standardbeagle/patchloop/internal/proposal"
	"github.com/standardbeagle/patchloop/internal/repair"
	"github.com/standardbeagle/patchloop/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testRepo struct {
	t    *testing.T
	root string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	for _, bin := range []string{"git", "sh"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
	r := &testRepo{t: t, root: t.TempDir()}
	r.git("init", "--quiet")
	r.git("config", "user.email", "dev@example.com")
	r.git("config", "user.name", "Dev")
	r.git("config", "commit.gpgsign", "false")
	return r
}

func (r *testRepo) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.root
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func (r *testRepo) write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.root, path)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0644))
}

func (r *testRepo) commit(msg string) string {
	r.t.Helper()
	r.git("add", "-A")
	r.git("commit", "--quiet", "-m", msg)
	return r.git("rev-parse", "HEAD")
}

// scripted replays one answer per call and records the requests.
type scripted struct {
	mu       sync.Mutex
	answers  [][]types.Modification
	requests []proposal.Request
}

func (s *scripted) Propose(ctx context.Context, req proposal.Request) ([]types.Modification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	return s.answers[i], nil
}

func (s *scripted) TokenUsage() int { return 42 }

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default("")
	cfg.Index.StoreDir = t.TempDir()
	cfg.Output.LogDir = t.TempDir()
	cfg.Validate.Commands = map[types.Language]string{types.LanguagePython: "test -s {file}"}
	cfg.Validate.Stdin = nil
	return cfg
}

func newTestRunner(t *testing.T, p repair.Proposer) *Runner {
	r, err := NewRunner(testConfig(t), t.TempDir())
	require.NoError(t, err)
	r.NewProposer = func(Spec, string, *config.Config) (repair.Proposer, error) { return p, nil }
	return r
}

const appPy = "def greet():\n    return 'hi'\n\n\ndef part():\n    return 'bye'\n"

var greetFix = []types.Modification{{
	FilePath:    "app.py",
	Range:       &types.LineRange{Start: 0, End: 2},
	Original:    "return 'hi'",
	Replacement: "return 'hello'",
}}

func TestWorkspace_AcquireCleansAndReleases(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("app.py", appPy)
	first := repo.commit("init")
	repo.write("app.py", "changed\n")
	second := repo.commit("second")

	repo.write("app.py", "dirty\n")
	repo.write("scratch.py", "x = 1\n")

	p, err := git.NewProvider(repo.root)
	require.NoError(t, err)
	ctx := context.Background()

	ws, err := Acquire(ctx, p, first)
	require.NoError(t, err)
	assert.Equal(t, first, ws.Commit())
	clean, err := p.IsClean(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	repo.write("app.py", "edited\n")
	require.NoError(t, ws.Release(ctx, false))
	require.NoError(t, ws.Release(ctx, false))
	content, err := os.ReadFile(filepath.Join(repo.root, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, appPy, string(content))

	ws, err = Acquire(ctx, p, second)
	require.NoError(t, err)
	assert.Equal(t, second, ws.Commit())
	repo.write("app.py", "kept\n")
	require.NoError(t, ws.Release(ctx, true))
	content, err = os.ReadFile(filepath.Join(repo.root, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "kept\n", string(content))
}

func TestRunner_Success(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("app.py", appPy)
	repo.write("util.py", "def helper():\n    pass\n")
	sha := repo.commit("init")

	p := &scripted{answers: [][]types.Modification{greetFix}}
	runner := newTestRunner(t, p)

	spec := Spec{Repo: repo.root, RepoType: RepoLocal, Language: types.LanguagePython, Instruction: "make greet say hello"}
	report, err := runner.Run(context.Background(), spec)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, sha, report.CommitSHA)
	assert.Equal(t, index.ModeRebuild, report.IndexMode)
	assert.Equal(t, 0, report.Iterations)
	assert.Equal(t, 42, report.TokenUsage)
	assert.Contains(t, report.MatchedFiles, "app.py")
	assert.Contains(t, report.ModelPatch, "-    return 'hi'")
	assert.Contains(t, report.ModelPatch, "+    return 'hello'")
	assert.Equal(t, []git.ChangedFile{{Path: "app.py", Status: git.FileStatusModified}}, report.ChangedFiles)
	assert.Contains(t, report.LogMessage, "app.py file modified successfully. ")
	assert.Contains(t, report.LogMessage, "Syntax check passed for app.py.")

	require.Len(t, p.requests, 1)
	assert.Contains(t, p.requests[0].Context, "[start of app.py][0]def greet():")

	// the report is on disk and the tree is back at the commit
	path := filepath.Join(runner.Config.Output.LogDir, filepath.Base(repo.root)+"_"+sha+"_log.json")
	saved, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report.ModelPatch, saved.ModelPatch)
	assert.Equal(t, "", repo.git("status", "--porcelain"))

	// the same commit again reuses the stored index
	report, err = runner.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, index.ModeReuse, report.IndexMode)
}

func TestRunner_DeltaFromPriorCommit(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("app.py", appPy)
	first := repo.commit("init")
	repo.write("extra.py", "def extra():\n    pass\n")
	second := repo.commit("add extra")

	runner := newTestRunner(t, &scripted{answers: [][]types.Modification{greetFix}})
	ctx := context.Background()

	base := Spec{Repo: repo.root, Language: types.LanguagePython, CommitSHA: first, Instruction: "make greet say hello"}
	report, err := runner.Run(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, index.ModeRebuild, report.IndexMode)

	next := base
	next.CommitSHA, next.PriorSHA = second, first
	report, err = runner.Run(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, index.ModeDelta, report.IndexMode)
	assert.True(t, report.Success)

	snap, err := runner.Store.Load(ctx, index.Key{Project: filepath.Base(repo.root), Commit: second})
	require.NoError(t, err)
	assert.Contains(t, snap.Entry, "extra.py")
	assert.Contains(t, snap.Entry, "app.py")

	// without a hint the parent commit's index is patched
	repo.write("more.py", "def more():\n    pass\n")
	third := repo.commit("add more")
	last := base
	last.CommitSHA = third
	report, err = runner.Run(ctx, last)
	require.NoError(t, err)
	assert.Equal(t, index.ModeDelta, report.IndexMode)
}

func TestRunner_ExhaustsRetries(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("app.py", appPy)
	repo.commit("init")

	miss := []types.Modification{{FilePath: "app.py", Original: "return 'nope'", Replacement: "x"}}
	p := &scripted{answers: [][]types.Modification{miss}}
	runner := newTestRunner(t, p)

	report, err := runner.Run(context.Background(), Spec{Repo: repo.root, Language: types.LanguagePython, Instruction: "greet"})
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, types.DefaultMaxIterations+1, report.Iterations)
	assert.Len(t, p.requests, types.DefaultMaxIterations+1)
	assert.Empty(t, report.ModelPatch)
	assert.Contains(t, report.LogMessage, "No match code snippets")
	assert.Equal(t, "", repo.git("status", "--porcelain"))
}

func TestRunner_KeepResult(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("app.py", appPy)
	repo.commit("init")

	runner := newTestRunner(t, &scripted{answers: [][]types.Modification{greetFix}})
	runner.KeepResult = true

	_, err := runner.Run(context.Background(), Spec{Repo: repo.root, Language: types.LanguagePython, Instruction: "greet"})
	require.NoError(t, err)
	assert.Equal(t, "M app.py", repo.git("status", "--porcelain"))
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"local", Spec{Repo: "shop", Instruction: "x"}, false},
		{"github", Spec{Repo: "acme/shop", RepoType: RepoGitHub, Instruction: "x"}, false},
		{"github without owner", Spec{Repo: "shop", RepoType: RepoGitHub, Instruction: "x"}, true},
		{"unknown type", Spec{Repo: "shop", RepoType: "svn", Instruction: "x"}, true},
		{"no repo", Spec{Instruction: "x"}, true},
		{"no instruction", Spec{Repo: "shop"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.Equal(t, "shop", Spec{Repo: "acme/shop/"}.ProjectName())
}

func TestReadSpecs(t *testing.T) {
	input := `# tasks
{"repo":"acme/shop","repo_type":"github","language":"flutter","commit_sha":"abc","user_instruction":"add cart"}

{"repo":"local-app","language":"python","user_instruction":"fix"}
`
	specs, err := ReadSpecs(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, types.LanguageFlutter, specs[0].Language)
	assert.Equal(t, "abc", specs[0].CommitSHA)
	assert.Equal(t, "local-app", specs[1].Repo)

	_, err = ReadSpecs(strings.NewReader("{broken\n"))
	assert.ErrorContains(t, err, "line 1")
}

func TestBatch(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("app.py", appPy)
	repo.commit("init")

	runner := newTestRunner(t, &scripted{answers: [][]types.Modification{greetFix}})
	specs := []Spec{
		{Repo: repo.root, Language: types.LanguagePython, Instruction: "greet"},
		{Repo: "", Instruction: "invalid"},
		{Repo: repo.root, Language: types.LanguagePython, Instruction: "greet again"},
	}

	outcomes := runner.Batch(context.Background(), specs, 2)
	require.Len(t, outcomes, 3)
	require.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].Report.Success)
	assert.Error(t, outcomes[1].Err)
	require.NoError(t, outcomes[2].Err)
	assert.Equal(t, index.ModeReuse, outcomes[2].Report.IndexMode)
	assert.Equal(t, "greet again", outcomes[2].Spec.Instruction)
}
