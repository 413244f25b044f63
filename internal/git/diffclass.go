package git

import (
	"sort"
	"strings"
)

// ClassifyDiff reads raw `git diff <from> <to>` output and decides, per file
// header, whether the file's old side must be dropped from the index and
// whether its new side must be (re)indexed:
//
//	deleted file mode      -> old
//	new file mode          -> new
//	index <a>..<b>         -> old and new (edited)
//	similarity + rename    -> old and new
//	similarity + copy      -> new
//	old mode               -> neither (pure mode change)
//
// old mode/new mode lines that precede one of the other headers (a mode
// change together with an edit, rename or copy) are skipped, so the file is
// classified by the header that follows them.
//
// Only paths for which keep returns true are collected. A nil keep accepts
// every path.
func ClassifyDiff(diff string, keep func(path string) bool) DiffClassification {
	if keep == nil {
		keep = func(string) bool { return true }
	}

	lines := splitLines(diff)
	var result DiffClassification
	oldSet := make(map[string]bool)
	newSet := make(map[string]bool)

	for idx, line := range lines {
		if !strings.HasPrefix(line, "diff --git ") {
			continue
		}
		oldPath, newPath, ok := parseDiffGitHeader(line)
		if !ok {
			continue
		}
		info1, info2, modeChanged := extendedHeader(lines[idx+1:])

		delta := FileDelta{OldPath: oldPath, NewPath: newPath}
		switch {
		case strings.HasPrefix(info1, "deleted"):
			delta.Kind, delta.Old = HeaderDeleted, true
		case strings.HasPrefix(info1, "new file"):
			delta.Kind, delta.New = HeaderAdded, true
		case strings.HasPrefix(info1, "index"):
			delta.Kind, delta.Old, delta.New = HeaderEdited, true, true
		case strings.HasPrefix(info1, "similarity"):
			switch {
			case strings.HasPrefix(info2, "rename"):
				delta.Kind, delta.Old, delta.New = HeaderRenamed, true, true
			case strings.HasPrefix(info2, "copy"):
				delta.Kind, delta.New = HeaderCopied, true
			default:
				delta.Kind = HeaderUnknown
			}
		case modeChanged:
			delta.Kind = HeaderModeChange
		default:
			delta.Kind = HeaderUnknown
		}

		result.Deltas = append(result.Deltas, delta)
		if delta.Old && keep(oldPath) {
			oldSet[oldPath] = true
		}
		if delta.New && keep(newPath) {
			newSet[newPath] = true
		}
	}

	result.OldFiles = sortedKeys(oldSet)
	result.NewFiles = sortedKeys(newSet)
	return result
}

// parseDiffGitHeader extracts paths from `diff --git a/X b/Y`, stripping the
// a/ and b/ prefixes. Quoted paths (git's C-style quoting) are unquoted.
func parseDiffGitHeader(line string) (string, string, bool) {
	rest := strings.TrimPrefix(line, "diff --git ")

	if strings.HasPrefix(rest, "\"") {
		oldPath, remain, ok := cutQuoted(rest)
		if !ok {
			return "", "", false
		}
		remain = strings.TrimSpace(remain)
		var newPath string
		if strings.HasPrefix(remain, "\"") {
			newPath, _, ok = cutQuoted(remain)
			if !ok {
				return "", "", false
			}
		} else {
			newPath = remain
		}
		return stripSide(oldPath, "a/"), stripSide(newPath, "b/"), true
	}

	// Unquoted paths have no spaces-safe separator; for a rename the two
	// sides differ, so split on " b/" from the right.
	cut := strings.LastIndex(rest, " b/")
	if cut < 0 {
		return "", "", false
	}
	oldPath := rest[:cut]
	newPath := rest[cut+1:]
	if strings.HasSuffix(newPath, "\"") {
		return "", "", false
	}
	return stripSide(oldPath, "a/"), stripSide(newPath, "b/"), true
}

func cutQuoted(s string) (string, string, bool) {
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			if i+1 >= len(s) {
				return "", "", false
			}
			i++
			switch s[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(s[i])
			}
		case '"':
			return sb.String(), s[i+1:], true
		default:
			sb.WriteByte(c)
		}
	}
	return "", "", false
}

func stripSide(p, prefix string) string {
	return strings.TrimPrefix(p, prefix)
}

// extendedHeader returns the first two header lines of one file block that
// are not mode lines, and whether mode lines were seen. The block ends at
// the next file header or the first patch line.
func extendedHeader(rest []string) (info1, info2 string, modeChanged bool) {
	var infos []string
	for _, l := range rest {
		if strings.HasPrefix(l, "diff --git ") || strings.HasPrefix(l, "--- ") ||
			strings.HasPrefix(l, "@@") || strings.HasPrefix(l, "Binary files ") {
			break
		}
		if strings.HasPrefix(l, "old mode") || strings.HasPrefix(l, "new mode") {
			modeChanged = true
			continue
		}
		infos = append(infos, l)
		if len(infos) == 2 {
			break
		}
	}
	if len(infos) > 0 {
		info1 = infos[0]
	}
	if len(infos) > 1 {
		info2 = infos[1]
	}
	return info1, info2, modeChanged
}

// splitLines splits on newlines without a line length limit, so one huge
// patch line cannot hide the file headers after it.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
