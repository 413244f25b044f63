// Package proposal talks to the external collaborator that turns an
// instruction plus code context into modification records.
package proposal

import (
	"errors"
)

var (
	// ErrUnparseable means the proposer answered but no modification record
	// could be extracted.
	ErrUnparseable = errors.New("cannot parse modification output")
	// ErrRateLimited is the only proposer error that WithRetry retries.
	ErrRateLimited = errors.New("proposer rate limited")
)

// Request is one proposal call. Failure is empty on the first round and
// carries the previous round's aggregated message afterwards.
type Request struct {
	Instruction string `json:"instruction"`
	Context     string `json:"retrieved_context"`
	Failure     string `json:"prior_failure_context,omitempty"`
	Iteration   int    `json:"iteration"`
}

// IsRetry reports whether the request follows a failed round.
func (r Request) IsRetry() bool {
	return r.Iteration > 0
}
