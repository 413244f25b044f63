package segment

import (
	"regexp"
)

var (
	dartClassPattern = regexp.MustCompile(
		`\b(abstract\s+class|class|mixin)\s+([_\w]+)\s*(?:extends\s+[_\w<>]+\s*)?(?:implements\s+[_\w<>,\s]+\s*)?` +
			`(?:with\s+[_\w<>,\s]+\s*)?\s*\{`)
	dartCommentPattern = regexp.MustCompile(`(?ms)//.*?$|/\*.*?\*/`)
)

// DartSegmenter finds classes and mixins with a regular expression and
// closes them by counting braces. Units lying entirely inside a comment
// are skipped.
type DartSegmenter struct{}

func NewDartSegmenter() *DartSegmenter {
	return &DartSegmenter{}
}

func (d *DartSegmenter) Segment(path string, content []byte) ([]Unit, error) {
	comments := dartCommentPattern.FindAllIndex(content, -1)

	var spans []span
	last := 0
	for _, m := range dartClassPattern.FindAllSubmatchIndex(content, -1) {
		start := m[0]
		if start < last {
			// nested match inside an accepted unit, e.g. "class" in a string
			continue
		}
		name := string(content[m[4]:m[5]])
		end := closeBraces(content, start)

		if insideAny(comments, start, end) {
			continue
		}
		spans = append(spans, span{name: name, kind: KindClass, start: start, end: end})
		last = end
	}
	return assemble(content, spans), nil
}

// closeBraces returns the offset just past the brace that balances the
// first '{' at or after start. An unbalanced unit runs to end of file.
func closeBraces(content []byte, start int) int {
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(content)
}

func insideAny(ranges [][]int, start, end int) bool {
	for _, r := range ranges {
		if r[0] <= start && r[1] >= end {
			return true
		}
	}
	return false
}
