package repair

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/patchloop/internal/patch"
	"github.com/standardbeagle/patchloop/internal/proposal"
	"github.com/standardbeagle/patchloop/internal/scan"
	"github.com/standardbeagle/patchloop/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProposer returns one scripted answer per call; the last answer repeats.
type fakeProposer struct {
	answers  [][]types.Modification
	errs     []error
	requests []proposal.Request
}

func (f *fakeProposer) Propose(ctx context.Context, req proposal.Request) ([]types.Modification, error) {
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.answers) == 0 {
		return nil, proposal.ErrUnparseable
	}
	if i >= len(f.answers) {
		i = len(f.answers) - 1
	}
	if f.answers[i] == nil {
		return nil, proposal.ErrUnparseable
	}
	return f.answers[i], nil
}

// fakeApplier fails modifications whose file is listed in reject.
type fakeApplier struct {
	reject  map[string]bool
	applied []string
}

func (f *fakeApplier) Apply(mod types.Modification) patch.Result {
	if f.reject[mod.FilePath] {
		return patch.Result{FilePath: mod.FilePath, Message: "No match code snippets in " + mod.FilePath + ". "}
	}
	f.applied = append(f.applied, mod.FilePath)
	return patch.Result{FilePath: mod.FilePath, Success: true, Message: mod.FilePath + " file modified successfully. "}
}

type fakeValidator struct {
	pass  func(round int, file string) bool
	calls []string
	round *int
}

func (f *fakeValidator) Validate(ctx context.Context, file string, lang types.Language) types.ValidationResult {
	f.calls = append(f.calls, file)
	passed := f.pass == nil || f.pass(*f.round, file)
	res := types.ValidationResult{File: file, Passed: passed}
	if !passed {
		res.Diagnostic = "error: " + file
	}
	return res
}

type fakeTree struct {
	restores int
	err      error
}

func (f *fakeTree) Restore(ctx context.Context) error {
	f.restores++
	return f.err
}

func mod(file string) types.Modification {
	return types.Modification{FilePath: file, Range: &types.LineRange{Start: 0, End: 1}, Original: "a", Replacement: "b"}
}

type harness struct {
	proposer  *fakeProposer
	applier   *fakeApplier
	validator *fakeValidator
	tree      *fakeTree
	loop      *Loop
	phases    []types.Phase
}

func newHarness(answers [][]types.Modification) *harness {
	h := &harness{
		proposer: &fakeProposer{answers: answers},
		applier:  &fakeApplier{reject: map[string]bool{}},
		tree:     &fakeTree{},
	}
	h.validator = &fakeValidator{round: new(int)}
	h.loop = NewLoop(h.proposer, h.applier, h.validator, h.tree, 3)
	h.loop.OnTransition = func(s types.RepairState) {
		h.phases = append(h.phases, s.Phase)
		*h.validator.round = s.Iteration
	}
	return h
}

func TestLoop_SucceedsFirstRound(t *testing.T) {
	h := newHarness([][]types.Modification{{mod("a.py"), mod("b.py"), mod("a.py")}})

	res, err := h.loop.Run(context.Background(), Task{Instruction: "do it", Context: "ctx", Language: types.LanguagePython})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, types.PhaseSucceeded, res.State.Phase)
	assert.True(t, res.State.Terminal)
	assert.Len(t, res.Rounds, 1)
	assert.Equal(t, 1, h.tree.restores)
	// each touched file validated once, in first-touch order
	assert.Equal(t, []string{"a.py", "b.py"}, h.validator.calls)
	assert.Equal(t, []types.Phase{types.PhaseProposing, types.PhaseApplying, types.PhaseValidating, types.PhaseSucceeded}, h.phases)

	req := h.proposer.requests[0]
	assert.Equal(t, "do it", req.Instruction)
	assert.Equal(t, "ctx", req.Context)
	assert.Empty(t, req.Failure)

	// validation text lands on the last modification that touched the file
	msgs := res.Rounds[0].Outcome.Messages
	assert.NotContains(t, msgs[0], "Syntax check")
	assert.Contains(t, msgs[1], "Syntax check passed for b.py.")
	assert.Contains(t, msgs[2], "Syntax check passed for a.py.")
}

func TestLoop_RetryBoundWithAlwaysFailingValidator(t *testing.T) {
	h := newHarness([][]types.Modification{{mod("a.py")}})
	h.validator.pass = func(int, string) bool { return false }

	res, err := h.loop.Run(context.Background(), Task{Language: types.LanguagePython})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, types.PhaseFailed, res.State.Phase)
	assert.Len(t, h.proposer.requests, 4, "max_iterations + 1 proposal rounds")
	assert.Len(t, res.Rounds, 4)
	assert.Equal(t, 4, h.tree.restores)
	assert.Equal(t, 4, res.State.Iteration)
	assert.Equal(t, 4, strings.Count(res.Log, "# modification 1\n"))

	// each retry carries the previous round's aggregated message
	for i, req := range h.proposer.requests {
		assert.Equal(t, i, req.Iteration)
		if i > 0 {
			assert.Contains(t, req.Failure, "# modification 1\n")
			assert.Contains(t, req.Failure, "Syntax check failed for a.py.\nerror: a.py")
		}
	}
}

func TestLoop_SucceedsOnRetry(t *testing.T) {
	h := newHarness([][]types.Modification{{mod("a.py")}, {mod("b.py")}})
	h.validator.pass = func(round int, file string) bool { return round >= 1 }

	res, err := h.loop.Run(context.Background(), Task{Language: types.LanguagePython})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Rounds, 2)
	assert.Equal(t, 1, res.State.Iteration)
}

func TestLoop_FailureIsolationAndOrdering(t *testing.T) {
	h := newHarness([][]types.Modification{{mod("m1.py"), mod("m2.py"), mod("m3.py")}})
	h.applier.reject["m2.py"] = true
	h.loop.maxIterations = 1

	res, err := h.loop.Run(context.Background(), Task{Language: types.LanguagePython})
	require.NoError(t, err)

	assert.False(t, res.Success)
	// m1 and m3 still applied every round
	assert.Equal(t, []string{"m1.py", "m3.py", "m1.py", "m3.py"}, h.applier.applied)
	assert.Equal(t, []string{"m1.py", "m3.py", "m1.py", "m3.py"}, h.validator.calls)

	i2 := strings.Index(res.Message, "# modification 2")
	i3 := strings.Index(res.Message, "# modification 3")
	require.True(t, i2 >= 0 && i3 >= 0)
	assert.Less(t, i2, i3)
	assert.Contains(t, res.Message, "No match code snippets in m2.py")
}

func TestLoop_UnparseableFirstProposal(t *testing.T) {
	h := newHarness(nil)

	res, err := h.loop.Run(context.Background(), Task{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, types.PhaseFailed, res.State.Phase)
	assert.Equal(t, UnparseableMessage, res.Message)
	assert.Equal(t, 0, res.State.Iteration)
	assert.Len(t, h.proposer.requests, 1)
	assert.Empty(t, h.applier.applied)
}

func TestLoop_UnparseableRetryConsumesIteration(t *testing.T) {
	h := newHarness([][]types.Modification{{mod("a.py")}, nil, nil, {mod("a.py")}})
	h.validator.pass = func(round int, file string) bool { return round == 3 }

	res, err := h.loop.Run(context.Background(), Task{Language: types.LanguagePython})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Len(t, h.proposer.requests, 4)
	assert.True(t, res.Rounds[1].Unparseable)
	// the last real failure is carried across unparseable rounds
	assert.Contains(t, h.proposer.requests[3].Failure, "Syntax check failed for a.py.")
	assert.Equal(t, h.proposer.requests[1].Failure, h.proposer.requests[2].Failure)
	assert.NotContains(t, h.proposer.requests[2].Failure, UnparseableMessage)
}

func TestLoop_FatalErrors(t *testing.T) {
	h := newHarness([][]types.Modification{{mod("a.py")}})
	h.tree.err = errors.New("git restore failed")
	_, err := h.loop.Run(context.Background(), Task{})
	assert.EqualError(t, err, "git restore failed")
	assert.Empty(t, h.proposer.requests)

	h = newHarness([][]types.Modification{{mod("a.py")}})
	h.proposer.errs = []error{errors.New("transport down")}
	_, err = h.loop.Run(context.Background(), Task{})
	assert.EqualError(t, err, "transport down")

	h = newHarness([][]types.Modification{{mod("a.py")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.loop.Run(ctx, Task{})
	assert.ErrorIs(t, err, context.Canceled)
}

// Drives the loop with the real applier over a temp tree.
func TestLoop_WithRealApplier(t *testing.T) {
	root := t.TempDir()
	content := "def f(x):\n    if x > 0:\n        return 1\n    return 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.py"), []byte(content), 0644))

	applier := patch.NewApplier(scan.NewForLanguage(root, types.LanguagePython), []string{"f.py"}, 5)
	proposer := &fakeProposer{answers: [][]types.Modification{{
		{FilePath: "f.py", Range: &types.LineRange{Start: 2, End: 3}, Original: "return 1", Replacement: "return 2"},
		{FilePath: "missing.py", Range: &types.LineRange{Start: 0, End: 1}, Original: "x", Replacement: "y"},
	}}}
	validator := &fakeValidator{round: new(int)}
	loop := NewLoop(proposer, applier, validator, &fakeTree{}, 0)

	res, err := loop.Run(context.Background(), Task{Language: types.LanguagePython})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, types.DefaultMaxIterations, res.State.MaxIterations)
	assert.Contains(t, res.Message, "# modification 2\nNo file: missing.py found in project directory.")

	data, err := os.ReadFile(filepath.Join(root, "f.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "return 2")
}
