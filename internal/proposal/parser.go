package proposal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/standardbeagle/patchloop/internal/types"
)

var (
	recordPattern = regexp.MustCompile(`(?s)# modification \d+\n<file>(.*?)</file>\n<position>(.*?)</position>\n` +
		`<original>(.*?)</original>\n<patched>(.*?)</patched>`)
	fencePattern = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*\n(.*)```$")
)

// Parse extracts every modification record from proposer output, in order.
// Output wrapped in a fenced block is unwrapped first. A position that is
// not "start,end" leaves Range nil so the applier searches the whole file.
func Parse(text string) ([]types.Modification, error) {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var mods []types.Modification
	for _, m := range recordPattern.FindAllStringSubmatch(text, -1) {
		mods = append(mods, types.Modification{
			FilePath:    strings.TrimSpace(m[1]),
			Range:       ParsePosition(m[2]),
			Original:    strings.TrimSpace(m[3]),
			Replacement: strings.TrimSpace(m[4]),
		})
	}
	if len(mods) == 0 {
		return nil, ErrUnparseable
	}
	return mods, nil
}

// ParsePosition reads "start,end"; anything else yields nil.
func ParsePosition(s string) *types.LineRange {
	startText, endText, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return nil
	}
	start, err := strconv.Atoi(strings.TrimSpace(startText))
	if err != nil {
		return nil
	}
	end, err := strconv.Atoi(strings.TrimSpace(endText))
	if err != nil {
		return nil
	}
	return &types.LineRange{Start: start, End: end}
}

// Format renders modifications back into the record format, numbered from 1.
func Format(mods []types.Modification) string {
	var sb strings.Builder
	for i, m := range mods {
		position := ""
		if m.Range != nil {
			position = m.Range.String()
		}
		original := m.Original
		if original == "" {
			original = types.PlaceholderText
		}
		sb.WriteString("# modification ")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("\n<file>" + m.FilePath + "</file>\n")
		sb.WriteString("<position>" + position + "</position>\n")
		sb.WriteString("<original>" + original + "</original>\n")
		sb.WriteString("<patched>" + m.Replacement + "</patched>\n")
	}
	return sb.String()
}
