// Package locate finds the current position of a code excerpt whose claimed
// line range may have drifted and whose whitespace may have been reflowed.
package locate

import (
	"regexp"
	"strings"

	"github.com/standardbeagle/patchloop/internal/debug"
	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/types"
)

// SplitLines splits content after every newline, keeping the terminators so
// the lines concatenate back to the original bytes.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Pattern compiles an excerpt into a whitespace-tolerant matcher: the
// excerpt is split on whitespace runs, each token is escaped literally, and
// tokens are joined by \s* so any run of spaces, tabs or newlines (or none)
// may separate them, inside a line as well as across reflowed line breaks.
func Pattern(original string) (*regexp.Regexp, error) {
	tokens := strings.Fields(original)
	for i, tok := range tokens {
		tokens[i] = regexp.QuoteMeta(tok)
	}
	return regexp.Compile(strings.Join(tokens, `\s*`))
}

// Locate resolves a modification's position in lines.
//
// Without an excerpt the result is an insertion point at the start of line
// rng.Start. Otherwise the search window starts at rng (or the whole file
// when rng is nil) and grows by step lines on each side before every
// attempt, until the leftmost match is found or the window already covers
// the file. Exhaustion returns errors.ErrNotFound.
func Locate(lines []string, rng *types.LineRange, original string, step int) (types.LocatedRange, error) {
	if step <= 0 {
		step = types.DefaultWindowStep
	}
	total := len(lines)

	if types.IsPlaceholder(original) {
		if rng == nil {
			return types.LocatedRange{}, types.ErrNoLocation
		}
		at := clamp(rng.Start, 0, total)
		offset := offsetOf(lines, at)
		return types.LocatedRange{
			Start:       offset,
			End:         offset,
			WindowStart: at,
			WindowEnd:   at,
			Insertion:   true,
		}, nil
	}

	pattern, err := Pattern(original)
	if err != nil {
		return types.LocatedRange{}, err
	}

	start, end := 0, total
	if rng != nil {
		start, end = rng.Start, rng.End
		if end < start {
			start, end = end, start
		}
	}

	expansions := 0
	for {
		start = clamp(start-step, 0, total)
		end = clamp(end+step, 0, total)
		expansions++

		window := strings.Join(lines[start:end], "")
		if loc := pattern.FindStringIndex(window); loc != nil {
			base := offsetOf(lines, start)
			debug.LogLocate("match at lines [%d,%d) after %d expansion(s)\n", start, end, expansions)
			return types.LocatedRange{
				Start:       base + loc[0],
				End:         base + loc[1],
				WindowStart: start,
				WindowEnd:   end,
				Matched:     window[loc[0]:loc[1]],
				Expansions:  expansions,
			}, nil
		}

		if start == 0 && end == total {
			debug.LogLocate("no match after %d expansion(s) over %d lines\n", expansions, total)
			return types.LocatedRange{WindowStart: start, WindowEnd: end, Expansions: expansions}, plerrors.ErrNotFound
		}
	}
}

// LocateContent is Locate over raw file content.
func LocateContent(content string, rng *types.LineRange, original string, step int) (types.LocatedRange, error) {
	return Locate(SplitLines(content), rng, original, step)
}

// Collapse removes all whitespace, the normal form under which a located
// match equals its excerpt.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func offsetOf(lines []string, line int) int {
	n := 0
	for _, l := range lines[:line] {
		n += len(l)
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
