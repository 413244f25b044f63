// Package mcp exposes the locator, applier, validator, segmenter and index
// planner as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/patchloop/internal/config"
	pldebug "github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/index"
	"github.com/standardbeagle/patchloop/internal/scan"
	"github.com/standardbeagle/patchloop/internal/version"
)

// Server serves one project root.
type Server struct {
	cfg     *config.Config
	scanner *scan.Scanner
	store   index.Store
	server  *mcp.Server

	// writes serializes tools that modify the working tree
	writes sync.Mutex
}

// NewServer registers the tools for cfg's project. store may be nil, in
// which case index_plan reports every commit as a rebuild.
func NewServer(cfg *config.Config, store index.Store) (*Server, error) {
	if cfg.Project.Root == "" {
		return nil, fmt.Errorf("project root is required")
	}
	s := &Server{
		cfg:     cfg,
		scanner: scan.New(cfg),
		store:   store,
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "patchloop",
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "info",
		Description: "Server version and the project this server edits.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleInfo)

	s.server.AddTool(&mcp.Tool{
		Name:        "locate_snippet",
		Description: "Find where an excerpt of code sits in a file, starting from a claimed line range and widening it until the excerpt matches regardless of whitespace.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file":     {Type: "string", Description: "Project-relative or absolute file path"},
				"position": {Type: "string", Description: "Claimed zero-based line range \"start,end\" (end exclusive)"},
				"original": {Type: "string", Description: "Excerpt to find; \"...\" or empty means insert at start"},
				"step":     {Type: "integer", Description: "Lines added on each side per widening (default 5)"},
			},
			Required: []string{"file"},
		},
	}, s.handleLocate)

	s.server.AddTool(&mcp.Tool{
		Name:        "apply_modification",
		Description: "Replace the first occurrence of an excerpt near a claimed range, or insert text at a line when no excerpt is given. Writes the file.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file":     {Type: "string", Description: "Project source file"},
				"position": {Type: "string", Description: "Claimed zero-based line range \"start,end\""},
				"original": {Type: "string", Description: "Code to replace"},
				"patched":  {Type: "string", Description: "Replacement code"},
			},
			Required: []string{"file", "patched"},
		},
	}, s.handleApply)

	s.server.AddTool(&mcp.Tool{
		Name:        "validate_file",
		Description: "Run the project's checker for a file and report pass or failure with diagnostics.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file": {Type: "string", Description: "Project source file"},
			},
			Required: []string{"file"},
		},
	}, s.handleValidate)

	s.server.AddTool(&mcp.Tool{
		Name:        "segment_file",
		Description: "Split a source file into class or function units and the code between them.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file":     {Type: "string", Description: "Project source file"},
				"language": {Type: "string", Description: "Override the project language"},
			},
			Required: []string{"file"},
		},
	}, s.handleSegment)

	s.server.AddTool(&mcp.Tool{
		Name:        "index_plan",
		Description: "Decide whether the index for a commit is reused, patched from a prior commit's index, or rebuilt, and list the files involved.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"commit": {Type: "string", Description: "Commit to index (default HEAD)"},
				"prior":  {Type: "string", Description: "Commit whose index may be patched"},
			},
		},
	}, s.handleIndexPlan)
}

// recoverFromPanic turns a panicking handler into an error result.
func (s *Server) recoverFromPanic(operation string, handler func() (*mcp.CallToolResult, error)) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			pldebug.Log("MCP", "panic in %s: %v\n%s", operation, r, debug.Stack())
			result, err = createErrorResponse(operation, fmt.Errorf("internal error: %v", r))
		}
	}()

	result, err = handler()
	if err != nil {
		pldebug.Log("MCP", "error in %s: %v\n", operation, err)
		return createErrorResponse(operation, err)
	}
	return result, nil
}

// Start serves over stdio until ctx ends or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	pldebug.Log("MCP", "serving %s\n", s.cfg.Project.Root)
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// GetHandlerForTesting returns a tool handler by name.
func (s *Server) GetHandlerForTesting(toolName string) func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch toolName {
	case "info":
		return s.handleInfo
	case "locate_snippet":
		return s.handleLocate
	case "apply_modification":
		return s.handleApply
	case "validate_file":
		return s.handleValidate
	case "segment_file":
		return s.handleSegment
	case "index_plan":
		return s.handleIndexPlan
	default:
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return createErrorResponse("GetHandlerForTesting", fmt.Errorf("unknown tool: %s", toolName))
		}
	}
}
