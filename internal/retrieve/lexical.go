// Package retrieve picks the indexed documents most relevant to a task
// instruction. Embedding search stays outside this module; the lexical
// retriever here is what the CLI ships with.
package retrieve

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
	"github.com/surgebase/porter2"

	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/index"
	"github.com/standardbeagle/patchloop/internal/types"
)

// Retriever ranks documents against an instruction and returns the best.
type Retriever interface {
	Match(ctx context.Context, instruction string, docs []index.Document) []index.Document
}

// Scored is a document with its relevance.
type Scored struct {
	Document index.Document
	Score    float64
}

// LexicalRetriever scores by stemmed-term overlap. A query term with no
// exact stem in the document earns partial credit for its closest
// Jaro-Winkler match above FuzzyThreshold.
type LexicalRetriever struct {
	MaxDocuments   int
	MinScore       float64
	FuzzyThreshold float64
	FuzzyWeight    float64
}

// NewLexicalRetriever returns a retriever keeping the top max documents.
// max <= 0 means types.DefaultMaxDocuments.
func NewLexicalRetriever(max int, minScore float64) *LexicalRetriever {
	if max <= 0 {
		max = types.DefaultMaxDocuments
	}
	return &LexicalRetriever{
		MaxDocuments:   max,
		MinScore:       minScore,
		FuzzyThreshold: 0.88,
		FuzzyWeight:    0.5,
	}
}

// Match implements Retriever.
func (r *LexicalRetriever) Match(ctx context.Context, instruction string, docs []index.Document) []index.Document {
	ranked := r.Rank(ctx, instruction, docs)
	out := make([]index.Document, len(ranked))
	for i, s := range ranked {
		out[i] = s.Document
	}
	return out
}

// Rank returns up to MaxDocuments scored documents, best first. Ties keep
// the input order. Documents scoring zero or below MinScore are dropped.
func (r *LexicalRetriever) Rank(ctx context.Context, instruction string, docs []index.Document) []Scored {
	query := uniq(Terms(instruction))
	if len(query) == 0 || len(docs) == 0 {
		return nil
	}

	scored := make([]Scored, 0, len(docs))
	for _, d := range docs {
		if ctx.Err() != nil {
			break
		}
		s := r.score(query, documentTerms(d))
		if s <= 0 || s < r.MinScore {
			continue
		}
		scored = append(scored, Scored{Document: d, Score: s})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > r.MaxDocuments {
		scored = scored[:r.MaxDocuments]
	}
	debug.Log("RETRIEVE", "%d query terms, %d of %d documents kept\n", len(query), len(scored), len(docs))
	return scored
}

func (r *LexicalRetriever) score(query []string, terms map[string]bool) float64 {
	if len(terms) == 0 {
		return 0
	}
	total := 0.0
	for _, q := range query {
		if terms[q] {
			total++
			continue
		}
		best := 0.0
		for t := range terms {
			if sim := similarity(q, t); sim > best {
				best = sim
			}
		}
		if best >= r.FuzzyThreshold {
			total += best * r.FuzzyWeight
		}
	}
	return total / float64(len(query))
}

func similarity(a, b string) float64 {
	score, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	return float64(score)
}

func documentTerms(d index.Document) map[string]bool {
	set := make(map[string]bool)
	for _, src := range []string{d.Content, d.Unit, d.File} {
		for _, t := range Terms(src) {
			set[t] = true
		}
	}
	return set
}

// Terms lowercases, splits identifiers on case changes and non-alphanumerics,
// drops stop words and one-letter tokens, and stems what remains.
func Terms(text string) []string {
	var out []string
	for _, word := range splitWords(text) {
		w := strings.ToLower(word)
		if len(w) < 2 || stopWords[w] {
			continue
		}
		out = append(out, porter2.Stem(w))
	}
	return out
}

// splitWords breaks "fetchUserProfile_v2" into fetch, User, Profile, v2.
func splitWords(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(text)
	for i, ch := range runes {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) {
			flush()
			continue
		}
		if i > 0 && len(cur) > 0 && unicode.IsUpper(ch) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, ch)
	}
	flush()
	return words
}

func uniq(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Files returns the distinct files of docs in rank order.
func Files(docs []index.Document) []string {
	seen := make(map[string]bool)
	var files []string
	for _, d := range docs {
		if !seen[d.File] {
			seen[d.File] = true
			files = append(files, d.File)
		}
	}
	return files
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "into": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "so": true,
	"that": true, "the": true, "this": true, "to": true, "when": true,
	"with": true, "should": true, "please": true, "make": true, "we": true,
}
