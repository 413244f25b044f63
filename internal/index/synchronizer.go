package index

import (
	"context"
	"fmt"

	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/git"
)

// Mode is the decision taken for a commit.
type Mode string

const (
	// ModeReuse loads the index of the current commit unchanged.
	ModeReuse Mode = "reuse"
	// ModeDelta patches the prior commit's index with the changed files.
	ModeDelta Mode = "delta"
	// ModeRebuild indexes every project file from scratch.
	ModeRebuild Mode = "rebuild"
)

// Plan is the result of Prepare.
type Plan struct {
	Mode Mode `json:"mode"`
	Key  Key  `json:"key"`
	// Base is the prior commit's key in delta mode.
	Base Key `json:"base,omitempty"`
	// Old files lose their documents; New files are (re)indexed.
	Old []string `json:"old_files,omitempty"`
	New []string `json:"new_files,omitempty"`
}

// DiffSource produces unified diff text between two commits.
type DiffSource interface {
	Diff(ctx context.Context, from, to string) (string, error)
}

// FileSet enumerates and filters project source files.
type FileSet interface {
	Files(ctx context.Context) ([]string, error)
	Keep(rel string) bool
}

// Synchronizer decides between reuse, delta and rebuild and carries the
// decision out against a Store.
type Synchronizer struct {
	store   Store
	diffs   DiffSource
	files   FileSet
	builder *Builder
}

// NewSynchronizer wires the collaborators.
func NewSynchronizer(store Store, diffs DiffSource, files FileSet, builder *Builder) *Synchronizer {
	return &Synchronizer{store: store, diffs: diffs, files: files, builder: builder}
}

// Prepare chooses how to obtain the index for (project, current). prior is
// a hint and may be empty.
func (s *Synchronizer) Prepare(ctx context.Context, project, current, prior string) (Plan, error) {
	key := Key{Project: project, Commit: current}
	if !key.Valid() {
		return Plan{}, fmt.Errorf("index key needs project and commit, got %q", key.String())
	}

	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return Plan{}, err
	}
	if ok {
		debug.LogIndex("%s: reuse\n", key)
		return Plan{Mode: ModeReuse, Key: key}, nil
	}

	base := Key{Project: project, Commit: prior}
	if prior != "" && prior != current {
		ok, err := s.store.Exists(ctx, base)
		if err != nil {
			return Plan{}, err
		}
		if ok {
			diff, err := s.diffs.Diff(ctx, prior, current)
			if err != nil {
				return Plan{}, err
			}
			cls := git.ClassifyDiff(diff, s.files.Keep)
			debug.LogIndex("%s: delta from %s, %d old, %d new\n", key, base, len(cls.OldFiles), len(cls.NewFiles))
			return Plan{Mode: ModeDelta, Key: key, Base: base, Old: cls.OldFiles, New: cls.NewFiles}, nil
		}
	}

	return s.rebuildPlan(ctx, key)
}

// Refresh discards any index stored for (project, current) and plans a
// full rebuild.
func (s *Synchronizer) Refresh(ctx context.Context, project, current string) (Plan, error) {
	key := Key{Project: project, Commit: current}
	if !key.Valid() {
		return Plan{}, fmt.Errorf("index key needs project and commit, got %q", key.String())
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return Plan{}, err
	}
	return s.rebuildPlan(ctx, key)
}

func (s *Synchronizer) rebuildPlan(ctx context.Context, key Key) (Plan, error) {
	files, err := s.files.Files(ctx)
	if err != nil {
		return Plan{}, err
	}
	debug.LogIndex("%s: rebuild, %d files\n", key, len(files))
	return Plan{Mode: ModeRebuild, Key: key, New: files}, nil
}

// Sync executes a plan and returns the index for the plan's key. Delta and
// rebuild results are persisted under that key.
func (s *Synchronizer) Sync(ctx context.Context, plan Plan) (*Snapshot, error) {
	var snap *Snapshot
	switch plan.Mode {
	case ModeReuse:
		return s.store.Load(ctx, plan.Key)
	case ModeDelta:
		base, err := s.store.Load(ctx, plan.Base)
		if err != nil {
			return nil, err
		}
		snap = base
		removed := 0
		for _, f := range plan.Old {
			removed += snap.RemoveFile(f)
		}
		debug.LogIndex("%s: removed %d documents of %d files\n", plan.Key, removed, len(plan.Old))
	case ModeRebuild:
		snap = NewSnapshot()
	default:
		return nil, fmt.Errorf("unknown index mode %q", plan.Mode)
	}

	built, err := s.builder.Build(ctx, plan.New)
	if err != nil {
		return nil, err
	}
	for _, f := range plan.New {
		if docs := built[f]; len(docs) > 0 {
			snap.AddDocuments(f, docs)
		}
	}

	if err := s.store.Save(ctx, plan.Key, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
