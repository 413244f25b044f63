// Package segment splits a source file into an ordered sequence of code units:
// class-like (or function-like) declarations and the code between them.
// The output feeds retrieval documents only; patch application never
// depends on it, so the brace and grammar heuristics are best effort.
package segment

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/standardbeagle/patchloop/internal/types"
)

// Unit kinds
const (
	KindClass    = "class"
	KindFunction = "function"
	KindType     = "type"
	KindGap      = "gap"
)

// Unit is one segment of a file. Gap units have an empty Name.
// StartByte/EndByte delimit the raw span; Content is that span trimmed.
// Lines are zero-based and inclusive.
type Unit struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Segmenter splits file content into units ordered by start offset.
type Segmenter interface {
	Segment(path string, content []byte) ([]Unit, error)
}

// For returns the segmenter used for a project language.
func For(lang types.Language) (Segmenter, error) {
	if lang == types.LanguageFlutter {
		return NewDartSegmenter(), nil
	}
	if g, ok := grammars[lang]; ok {
		return newTreeSitterSegmenter(lang, g), nil
	}
	return nil, fmt.Errorf("no segmenter for language %q", lang)
}

// span is a declaration found by a segmenter before gap filling.
type span struct {
	name  string
	kind  string
	start int
	end   int
}

// assemble turns declaration spans into units and fills the gaps between
// them. Spans must not overlap; whitespace-only gaps are dropped.
func assemble(content []byte, spans []span) []Unit {
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	lines := newLineIndex(content)
	units := make([]Unit, 0, len(spans)*2+1)
	addGap := func(start, end int) {
		if start >= end {
			return
		}
		text := strings.TrimSpace(string(content[start:end]))
		if text == "" {
			return
		}
		units = append(units, lines.unit("", KindGap, content, start, end))
	}

	last := 0
	for _, s := range spans {
		addGap(last, s.start)
		units = append(units, lines.unit(s.name, s.kind, content, s.start, s.end))
		last = s.end
	}
	addGap(last, len(content))
	return units
}

// lineIndex maps byte offsets to zero-based line numbers.
type lineIndex struct {
	starts []int
}

func newLineIndex(content []byte) lineIndex {
	starts := []int{0}
	for i := 0; i < len(content); {
		j := bytes.IndexByte(content[i:], '\n')
		if j < 0 {
			break
		}
		i += j + 1
		starts = append(starts, i)
	}
	return lineIndex{starts: starts}
}

func (li lineIndex) line(offset int) int {
	return sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
}

func (li lineIndex) unit(name, kind string, content []byte, start, end int) Unit {
	endLine := li.line(start)
	if end > start {
		endLine = li.line(end - 1)
	}
	return Unit{
		Name:      name,
		Kind:      kind,
		Content:   strings.TrimSpace(string(content[start:end])),
		StartByte: start,
		EndByte:   end,
		StartLine: li.line(start),
		EndLine:   endLine,
	}
}
