package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/git"
	"github.com/standardbeagle/patchloop/internal/index"
	"github.com/standardbeagle/patchloop/internal/locate"
	"github.com/standardbeagle/patchloop/internal/patch"
	"github.com/standardbeagle/patchloop/internal/proposal"
	"github.com/standardbeagle/patchloop/internal/segment"
	"github.com/standardbeagle/patchloop/internal/types"
	"github.com/standardbeagle/patchloop/internal/validate"
	"github.com/standardbeagle/patchloop/internal/version"
)

// LocateParams are the arguments of locate_snippet.
type LocateParams struct {
	File     string `json:"file"`
	Position string `json:"position,omitempty"`
	Original string `json:"original,omitempty"`
	Step     int    `json:"step,omitempty"`
}

// LocateResponse reports a match, or the widest window searched.
type LocateResponse struct {
	File  string             `json:"file"`
	Found bool               `json:"found"`
	Range types.LocatedRange `json:"range"`
}

// ApplyParams are the arguments of apply_modification.
type ApplyParams struct {
	File     string `json:"file"`
	Position string `json:"position,omitempty"`
	Original string `json:"original,omitempty"`
	Patched  string `json:"patched"`
}

// FileParams name one file.
type FileParams struct {
	File     string `json:"file"`
	Language string `json:"language,omitempty"`
}

// IndexPlanParams are the arguments of index_plan.
type IndexPlanParams struct {
	Commit string `json:"commit,omitempty"`
	Prior  string `json:"prior,omitempty"`
}

func decode(req *mcp.CallToolRequest, v interface{}) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func (s *Server) handleInfo(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return createJSONResponse(map[string]interface{}{
		"server_version": version.FullInfo(),
		"build_id":       version.BuildID(),
		"go_version":     runtime.Version(),
		"project_root":   s.cfg.Project.Root,
		"project_name":   s.cfg.Project.Name,
		"language":       s.cfg.Project.Language,
		"tools":          []string{"locate_snippet", "apply_modification", "validate_file", "segment_file", "index_plan"},
	})
}

// projectFile resolves a path to a root-relative source file of the project.
func (s *Server) projectFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("file is required")
	}
	rel, ok := s.scanner.Rel(path)
	if !ok {
		return "", fmt.Errorf("%s is outside the project", path)
	}
	return rel, nil
}

func (s *Server) handleLocate(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("locate_snippet", func() (*mcp.CallToolResult, error) {
		var p LocateParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		rel, err := s.projectFile(p.File)
		if err != nil {
			return nil, err
		}
		content, err := os.ReadFile(s.scanner.Abs(rel))
		if err != nil {
			return nil, plerrors.NewFileError("read", rel, err)
		}
		step := p.Step
		if step <= 0 {
			step = s.cfg.Repair.WindowStep
		}

		lines := locate.SplitLines(string(content))
		located, err := locate.Locate(lines, proposal.ParsePosition(p.Position), p.Original, step)
		resp := LocateResponse{File: rel, Range: located}
		switch {
		case err == nil:
			resp.Found = true
		case errors.Is(err, plerrors.ErrNotFound):
		default:
			return nil, err
		}
		return createJSONResponse(resp)
	})
}

func (s *Server) handleApply(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("apply_modification", func() (*mcp.CallToolResult, error) {
		var p ApplyParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		files, err := s.scanner.Files(ctx)
		if err != nil {
			return nil, err
		}

		s.writes.Lock()
		defer s.writes.Unlock()
		applier := patch.NewApplier(s.scanner, files, s.cfg.Repair.WindowStep)
		res := applier.Apply(types.Modification{
			FilePath:    p.File,
			Range:       proposal.ParsePosition(p.Position),
			Original:    p.Original,
			Replacement: p.Patched,
		})
		result, err := createJSONResponse(res)
		if err != nil {
			return nil, err
		}
		result.IsError = !res.Success
		return result, nil
	})
}

func (s *Server) handleValidate(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("validate_file", func() (*mcp.CallToolResult, error) {
		var p FileParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		rel, err := s.projectFile(p.File)
		if err != nil {
			return nil, err
		}
		lang, err := s.language(p.Language)
		if err != nil {
			return nil, err
		}
		res := validate.New(s.cfg).Validate(ctx, rel, lang)
		return createJSONResponse(map[string]interface{}{
			"result":  res,
			"message": validate.Message(res),
		})
	})
}

func (s *Server) handleSegment(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("segment_file", func() (*mcp.CallToolResult, error) {
		var p FileParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		rel, err := s.projectFile(p.File)
		if err != nil {
			return nil, err
		}
		lang, err := s.language(p.Language)
		if err != nil {
			return nil, err
		}
		content, err := os.ReadFile(s.scanner.Abs(rel))
		if err != nil {
			return nil, plerrors.NewFileError("read", rel, err)
		}
		seg, err := segment.For(lang)
		if err != nil {
			return nil, err
		}
		if c, ok := seg.(interface{ Close() }); ok {
			defer c.Close()
		}
		units, err := seg.Segment(rel, content)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(map[string]interface{}{
			"file":  rel,
			"units": units,
		})
	})
}

func (s *Server) handleIndexPlan(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("index_plan", func() (*mcp.CallToolResult, error) {
		var p IndexPlanParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		repo, err := git.NewProvider(s.cfg.Project.Root)
		if err != nil {
			return nil, err
		}
		ref := p.Commit
		if ref == "" {
			ref = "HEAD"
		}
		commit, err := repo.GetCommitHash(ctx, ref)
		if err != nil {
			return nil, err
		}

		store := s.store
		if store == nil {
			store = emptyStore{}
		}
		sync := index.NewSynchronizer(store, repo, s.scanner, nil)
		plan, err := sync.Prepare(ctx, s.cfg.Project.Name, commit, p.Prior)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(plan)
	})
}

func (s *Server) language(override string) (types.Language, error) {
	if override != "" {
		return types.ParseLanguage(override)
	}
	if s.cfg.Project.Language == "" {
		return "", errors.New("project language is not configured")
	}
	return s.cfg.Project.Language, nil
}

// emptyStore has no entries, so every plan is a rebuild.
type emptyStore struct{}

func (emptyStore) Exists(context.Context, index.Key) (bool, error) { return false, nil }
func (emptyStore) Load(_ context.Context, key index.Key) (*index.Snapshot, error) {
	return nil, plerrors.NewIndexError("load", key.String(), plerrors.ErrNotFound)
}
func (emptyStore) Save(context.Context, index.Key, *index.Snapshot) error { return nil }
func (emptyStore) Delete(context.Context, index.Key) error                { return nil }
