package proposal

import (
	"context"
	"errors"
	"time"

	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/types"
)

// Backoff strategies
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Proposer is implemented by CommandProposer and by test doubles.
type Proposer interface {
	Propose(ctx context.Context, req Request) ([]types.Modification, error)
}

// RetryPolicy bounds retries of rate-limited proposals.
type RetryPolicy struct {
	MaxAttempts int
	Wait        time.Duration
	MaxWait     time.Duration
	Backoff     string
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Wait
	if p.Backoff == BackoffExponential && attempt > 1 {
		for i := 1; i < attempt && (p.MaxWait <= 0 || d < p.MaxWait); i++ {
			d *= 2
		}
	}
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	return d
}

type retrying struct {
	next   Proposer
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry retries next while it reports ErrRateLimited, up to
// policy.MaxAttempts calls in total. Any other error is returned at once.
func WithRetry(next Proposer, policy RetryPolicy) Proposer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retrying{next: next, policy: policy, sleep: sleepContext}
}

func (r *retrying) Propose(ctx context.Context, req Request) ([]types.Modification, error) {
	var last error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		mods, err := r.next.Propose(ctx, req)
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return mods, err
		}
		last = err
		if attempt == r.policy.MaxAttempts {
			break
		}
		wait := r.policy.Delay(attempt)
		debug.LogRepair("rate limited, retry %d/%d in %s\n", attempt, r.policy.MaxAttempts-1, wait)
		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, last
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
