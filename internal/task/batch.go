package task

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/patchloop/internal/debug"
)

// Outcome pairs a batch task with its result.
type Outcome struct {
	Spec   Spec
	Report *Report
	Err    error
}

// ReadSpecs parses JSON lines; blank lines and lines starting with # are
// skipped.
func ReadSpecs(r io.Reader) ([]Spec, error) {
	var specs []Spec
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var s Spec
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		specs = append(specs, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return specs, nil
}

// Batch runs specs with at most limit projects in flight. Tasks on the same
// repository share a checkout, so they run one after another in input
// order; different repositories run in parallel. One task's failure does
// not stop the others. Outcomes are returned in input order.
func (r *Runner) Batch(ctx context.Context, specs []Spec, limit int) []Outcome {
	if limit <= 0 {
		limit = 1
	}
	outcomes := make([]Outcome, len(specs))

	var order []string
	groups := make(map[string][]int)
	for i, s := range specs {
		key := s.RepoType + ":" + strings.TrimRight(s.Repo, "/")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, key := range order {
		idxs := groups[key]
		g.Go(func() error {
			for _, i := range idxs {
				outcomes[i].Spec = specs[i]
				if err := ctx.Err(); err != nil {
					outcomes[i].Err = err
					continue
				}
				report, err := r.Run(ctx, specs[i])
				outcomes[i].Report, outcomes[i].Err = report, err
				if err != nil {
					debug.Log("TASK", "%s at %s: %v\n", specs[i].Repo, specs[i].CommitSHA, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
