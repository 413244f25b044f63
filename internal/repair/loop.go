// Package repair drives the propose, apply, validate cycle until the
// external checker accepts the tree or the retry bound is reached.
package repair

import (
	"context"
	"errors"
	"strings"

	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/patch"
	"github.com/standardbeagle/patchloop/internal/proposal"
	"github.com/standardbeagle/patchloop/internal/types"
	"github.com/standardbeagle/patchloop/internal/validate"
)

// UnparseableMessage ends a task whose first proposal yields no modification.
const UnparseableMessage = "cannot parse modification output."

// Proposer produces modifications for an instruction and failure context.
// It returns proposal.ErrUnparseable when the output has no usable record.
type Proposer interface {
	Propose(ctx context.Context, req proposal.Request) ([]types.Modification, error)
}

// Applier applies one modification to the working tree.
type Applier interface {
	Apply(mod types.Modification) patch.Result
}

// Validator checks one file after a round.
type Validator interface {
	Validate(ctx context.Context, file string, lang types.Language) types.ValidationResult
}

// Tree restores the checkout to its clean baseline.
type Tree interface {
	Restore(ctx context.Context) error
}

// Task is the input of one repair run.
type Task struct {
	Instruction string
	// Context is the retrieved code handed to the proposer.
	Context  string
	Language types.Language
}

// Round records one propose, apply, validate cycle.
type Round struct {
	Iteration     int                      `json:"iteration"`
	Modifications []types.Modification     `json:"modifications"`
	Applied       []patch.Result           `json:"applied"`
	Validations   []types.ValidationResult `json:"validations"`
	Outcome       types.AttemptOutcome     `json:"outcome"`
	Unparseable   bool                     `json:"unparseable,omitempty"`
}

// Result is the terminal state of a run.
type Result struct {
	State   types.RepairState `json:"state"`
	Success bool              `json:"success"`
	// Message is the last round's aggregated message.
	Message string `json:"message"`
	// Log concatenates every round's aggregated message.
	Log    string  `json:"log"`
	Rounds []Round `json:"rounds"`
}

// Loop is the repair state machine. It is strictly sequential; one Loop
// must own its checkout for the duration of Run.
type Loop struct {
	proposer      Proposer
	applier       Applier
	validator     Validator
	tree          Tree
	maxIterations int

	// OnTransition, when set, observes every phase change.
	OnTransition func(types.RepairState)
}

// NewLoop wires the collaborators. A non-positive maxIterations uses the default.
func NewLoop(p Proposer, a Applier, v Validator, t Tree, maxIterations int) *Loop {
	return &Loop{
		proposer:      p,
		applier:       a,
		validator:     v,
		tree:          t,
		maxIterations: maxIterations,
	}
}

// Run executes the loop. The returned error is reserved for fatal failures
// (tree restore, proposer transport, cancellation between rounds); a task
// that simply did not converge returns a Failed result and a nil error.
func (l *Loop) Run(ctx context.Context, task Task) (Result, error) {
	state := types.NewRepairState(l.maxIterations)
	var res Result
	var log strings.Builder

	for {
		if err := ctx.Err(); err != nil {
			return l.finish(res, state, log.String()), err
		}

		// Proposing
		l.transition(&state, types.PhaseProposing)
		if err := l.tree.Restore(ctx); err != nil {
			return l.finish(res, state, log.String()), err
		}

		req := proposal.Request{
			Instruction: task.Instruction,
			Context:     task.Context,
			Iteration:   state.Iteration,
		}
		if state.Iteration > 0 {
			req.Failure = state.LastOutcome.Message()
		}

		mods, err := l.proposer.Propose(ctx, req)
		if err != nil && !errors.Is(err, proposal.ErrUnparseable) {
			return l.finish(res, state, log.String()), err
		}

		if len(mods) == 0 {
			res.Rounds = append(res.Rounds, Round{Iteration: state.Iteration, Unparseable: true})
			if state.Iteration == 0 {
				state.LastOutcome = types.AttemptOutcome{Messages: []string{UnparseableMessage}}
				log.WriteString(UnparseableMessage)
				l.transition(&state, types.PhaseFailed)
				debug.LogRepair("first proposal unparseable, giving up\n")
				res.Message = UnparseableMessage
				return l.finish(res, state, log.String()), nil
			}
			// a retry that yields nothing still spends its iteration
			debug.LogRepair("iteration %d: unparseable proposal\n", state.Iteration)
			state.Iteration++
			if state.Exhausted() {
				l.transition(&state, types.PhaseFailed)
				res.Message = state.LastOutcome.Message()
				return l.finish(res, state, log.String()), nil
			}
			continue
		}

		round := l.runRound(ctx, &state, task.Language, mods)
		res.Rounds = append(res.Rounds, round)
		state.LastOutcome = round.Outcome
		msg := round.Outcome.Message()
		log.WriteString(msg)
		res.Message = msg

		if round.Outcome.AllSucceeded {
			l.transition(&state, types.PhaseSucceeded)
			res.Success = true
			return l.finish(res, state, log.String()), nil
		}

		state.Iteration++
		if state.Exhausted() {
			l.transition(&state, types.PhaseFailed)
			return l.finish(res, state, log.String()), nil
		}
		debug.LogRepair("round failed, retrying (iteration %d of %d)\n", state.Iteration, state.MaxIterations)
	}
}

// runRound applies every modification in proposal order, then validates
// each file touched by a successful apply. Validation text is appended to
// the message of the last modification that touched the file.
func (l *Loop) runRound(ctx context.Context, state *types.RepairState, lang types.Language, mods []types.Modification) Round {
	round := Round{Iteration: state.Iteration, Modifications: mods}
	outcome := types.AttemptOutcome{AllSucceeded: true, Messages: make([]string, len(mods))}

	l.transition(state, types.PhaseApplying)
	var touched []string
	lastTouch := make(map[string]int)
	for i, mod := range mods {
		applied := l.applier.Apply(mod)
		round.Applied = append(round.Applied, applied)
		outcome.Messages[i] = applied.Message
		if !applied.Success {
			outcome.AllSucceeded = false
			continue
		}
		if _, seen := lastTouch[applied.FilePath]; !seen {
			touched = append(touched, applied.FilePath)
		}
		lastTouch[applied.FilePath] = i
	}

	l.transition(state, types.PhaseValidating)
	for _, file := range touched {
		vr := l.validator.Validate(ctx, file, lang)
		round.Validations = append(round.Validations, vr)
		idx := lastTouch[file]
		outcome.Messages[idx] += validate.Message(vr)
		outcome.AllSucceeded = outcome.AllSucceeded && vr.Passed
	}

	round.Outcome = outcome
	debug.LogRepair("iteration %d: %d modification(s), %d file(s) validated, success=%v\n",
		state.Iteration, len(mods), len(touched), outcome.AllSucceeded)
	return round
}

func (l *Loop) transition(state *types.RepairState, phase types.Phase) {
	state.Phase = phase
	state.Terminal = phase.IsTerminal()
	if l.OnTransition != nil {
		l.OnTransition(*state)
	}
}

func (l *Loop) finish(res Result, state types.RepairState, log string) Result {
	res.State = state
	res.Log = log
	return res
}
