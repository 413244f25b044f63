package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/patchloop/internal/debug"
	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/security"
	"github.com/standardbeagle/patchloop/internal/segment"
)

// Summarizer replaces a unit's code with a natural-language description
// before it is indexed. It is an external collaborator; a failed summary
// drops that unit only.
type Summarizer interface {
	Summarize(ctx context.Context, file string, unit segment.Unit) (string, error)
}

// Builder turns files into documents, one per segment unit.
type Builder struct {
	root       string
	segmenter  segment.Segmenter
	summarizer Summarizer
	workers    int
}

// NewBuilder creates a builder. summarizer may be nil; workers <= 0 means 4.
func NewBuilder(root string, seg segment.Segmenter, summarizer Summarizer, workers int) *Builder {
	if workers <= 0 {
		workers = 4
	}
	return &Builder{root: root, segmenter: seg, summarizer: summarizer, workers: workers}
}

// Build segments every file concurrently and returns the documents per
// file. Files that no longer exist or hold binary data are skipped.
func (b *Builder) Build(ctx context.Context, files []string) (map[string][]Document, error) {
	results := make([][]Document, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, file := range files {
		g.Go(func() error {
			docs, err := b.buildFile(gctx, file)
			if err != nil {
				return err
			}
			results[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]Document, len(files))
	for i, file := range files {
		if len(results[i]) > 0 {
			out[file] = results[i]
		}
	}
	return out, nil
}

func (b *Builder) buildFile(ctx context.Context, file string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(b.root, filepath.FromSlash(file))
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			debug.LogIndex("skipping %s: not in working tree\n", file)
			return nil, nil
		}
		return nil, plerrors.NewIndexError("read", "", err).WithFile(file).WithRecoverable(true)
	}

	if err := security.CheckSource(file, content); err != nil {
		debug.LogIndex("skipping %v\n", err)
		return nil, nil
	}

	units, err := b.segmenter.Segment(file, content)
	if err != nil {
		return nil, plerrors.NewIndexError("segment", "", err).WithFile(file)
	}

	docs := make([]Document, 0, len(units))
	for _, u := range units {
		doc := Document{
			File:      file,
			Unit:      u.Name,
			Kind:      u.Kind,
			Content:   u.Content,
			Hash:      xxhash.Sum64String(u.Content),
			StartLine: u.StartLine,
			EndLine:   u.EndLine,
		}
		if b.summarizer != nil {
			summary, err := b.summarizer.Summarize(ctx, file, u)
			if err != nil {
				debug.LogIndex("summary failed for %s %q: %v\n", file, u.Name, err)
				continue
			}
			doc.Content = summary
			doc.Summary = true
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
