package types

import (
	"strconv"
	"strings"
	"time"
)

// ValidationResult is the verdict of the external checker for one file.
type ValidationResult struct {
	File       string        `json:"file"`
	Passed     bool          `json:"passed"`
	Diagnostic string        `json:"diagnostic_text"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// AttemptOutcome aggregates every modification of one proposal round.
// Messages keep proposal order; callers correlate failure text by index.
type AttemptOutcome struct {
	AllSucceeded bool     `json:"all_succeeded"`
	Messages     []string `json:"per_modification_messages"`
}

// Message concatenates the per-modification messages under
// "# modification N" headers, numbered from 1.
func (o AttemptOutcome) Message() string {
	var sb strings.Builder
	for i, msg := range o.Messages {
		sb.WriteString("# modification ")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("\n")
		sb.WriteString(msg)
	}
	return sb.String()
}

// Phase is a repair loop state.
type Phase string

const (
	PhaseProposing  Phase = "proposing"
	PhaseApplying   Phase = "applying"
	PhaseValidating Phase = "validating"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// RepairState tracks the loop across rounds.
type RepairState struct {
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"max_iterations"`
	Phase         Phase          `json:"phase"`
	LastOutcome   AttemptOutcome `json:"last_outcome"`
	Terminal      bool           `json:"terminal"`
}

// NewRepairState returns the state before the first proposal.
// A non-positive max falls back to DefaultMaxIterations.
func NewRepairState(maxIterations int) RepairState {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return RepairState{
		Iteration:     0,
		MaxIterations: maxIterations,
		Phase:         PhaseProposing,
	}
}

// Exhausted reports whether another retry would exceed the bound.
func (s RepairState) Exhausted() bool {
	return s.Iteration > s.MaxIterations
}
