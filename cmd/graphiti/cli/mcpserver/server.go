// Package mcpserver exposes the CLI over the Model Context Protocol.
// Each tool shells out to the CLI with --format json, keeping the CLI
// the single source of truth. Standard output carries only JSON-RPC
// frames; all logging goes to standard error.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "graphiti"
	serverVersion = "1.0.0"
)

// Per-tool subprocess timeouts. Capture runs detached and has none.
const (
	readTimeout  = 10 * time.Second
	writeTimeout = 60 * time.Second
	longTimeout  = 120 * time.Second
)

// Server wraps the MCP SDK server with graphiti tool and resource
// registrations.
type Server struct {
	inner *mcpsdk.Server
	deps  Deps
}

// Deps locates the state this server reads for the context resource.
type Deps struct {
	// RepoDir is the project root the assistant is working in.
	RepoDir string
	// IndexStatePath is the indexer's cursor file.
	IndexStatePath string
	// TokenBudget caps the context resource size, in tokens.
	TokenBudget int
}

// NewServer creates an MCP server with every tool registered.
func NewServer(deps Deps) *Server {
	if deps.TokenBudget <= 0 {
		deps.TokenBudget = DefaultTokenBudget
	}
	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: serverName, Version: serverVersion},
		&mcpsdk.ServerOptions{},
	)
	srv := &Server{inner: inner, deps: deps}
	srv.registerTools()
	srv.registerContextResource()
	return srv
}

// Run serves MCP over stdio until the context is canceled or the
// connection closes.
func (s *Server) Run(ctx context.Context) error {
	if err := s.inner.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Tool input schemas.

type AddInput struct {
	Text string `json:"text"            jsonschema:"episode text to store"`
	Name string `json:"name,omitempty"  jsonschema:"optional episode name"`
}

type SearchInput struct {
	Query string `json:"query"           jsonschema:"search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum results (default 20)"`
}

type ListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum results (default 50)"`
}

type ShowInput struct {
	ID string `json:"id" jsonschema:"episode uuid"`
}

type DeleteInput struct {
	ID string `json:"id" jsonschema:"episode uuid"`
}

type SummarizeInput struct {
	Query string `json:"query,omitempty" jsonschema:"optional topic to focus the summary on"`
}

type CaptureInput struct {
	TranscriptPath string `json:"transcript_path,omitempty" jsonschema:"transcript file to capture (defaults to the current session)"`
	SessionID      string `json:"session_id,omitempty"      jsonschema:"session identifier"`
}

type IndexInput struct {
	Since string `json:"since,omitempty" jsonschema:"date or SHA to index from"`
	Full  bool   `json:"full,omitempty"  jsonschema:"re-index everything from scratch"`
}

type EmptyInput struct{}

// ToolOutput wraps every tool's structured result.
type ToolOutput struct {
	Data json.RawMessage `json:"data"`
}

func (s *Server) registerTools() {
	addTool(s, "graphiti_add", "Store a knowledge episode.", writeTimeout,
		func(in AddInput) []string {
			args := []string{"add", in.Text}
			if in.Name != "" {
				args = append(args, "--name", in.Name)
			}
			return args
		})
	addTool(s, "graphiti_search", "Search stored knowledge.", readTimeout,
		func(in SearchInput) []string {
			args := []string{"search", in.Query}
			if in.Limit > 0 {
				args = append(args, "--limit", strconv.Itoa(in.Limit))
			}
			return args
		})
	addTool(s, "graphiti_list", "List stored episodes, newest first.", readTimeout,
		func(in ListInput) []string {
			args := []string{"list"}
			if in.Limit > 0 {
				args = append(args, "--limit", strconv.Itoa(in.Limit))
			}
			return args
		})
	addTool(s, "graphiti_show", "Show one episode by id.", readTimeout,
		func(in ShowInput) []string { return []string{"show", in.ID} })
	addTool(s, "graphiti_delete", "Delete one episode by id.", writeTimeout,
		func(in DeleteInput) []string { return []string{"delete", in.ID} })
	addTool(s, "graphiti_summarize", "Summarize stored knowledge.", longTimeout,
		func(in SummarizeInput) []string {
			args := []string{"summarize"}
			if in.Query != "" {
				args = append(args, in.Query)
			}
			return args
		})
	addTool(s, "graphiti_health", "Report component health.", readTimeout,
		func(EmptyInput) []string { return []string{"health"} })
	addTool(s, "graphiti_queue_status", "Report job and retry queue depths.", readTimeout,
		func(EmptyInput) []string { return []string{"queue", "status"} })
	addTool(s, "graphiti_queue_process", "Process queued jobs now.", longTimeout,
		func(EmptyInput) []string { return []string{"queue", "process"} })
	addTool(s, "graphiti_index", "Index repository history into the graph.", longTimeout,
		func(in IndexInput) []string {
			args := []string{"index"}
			if in.Since != "" {
				args = append(args, "--since", in.Since)
			}
			if in.Full {
				args = append(args, "--full")
			}
			return args
		})

	// Capture is detached: the caller must never block on LLM work.
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        "graphiti_capture",
		Description: "Capture the current session transcript in the background.",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, in CaptureInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		args := []string{"capture"}
		if in.TranscriptPath != "" {
			args = append(args, "--transcript", in.TranscriptPath)
		}
		if in.SessionID != "" {
			args = append(args, "--session", in.SessionID)
		}
		if err := SpawnDetached(args...); err != nil {
			return errorResult(err)
		}
		return jsonResult(map[string]string{"status": "capture started"})
	})
}

// addTool registers one subprocess-backed tool.
func addTool[Input any](s *Server, name, description string, timeout time.Duration, buildArgs func(Input) []string) {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		raw, err := s.runCli(ctx, timeout, buildArgs(in))
		if err != nil {
			return errorResult(err)
		}
		return rawResult(raw)
	})
}

// runCli executes the CLI with --format json and returns its stdout.
func (s *Server) runCli(ctx context.Context, timeout time.Duration, args []string) (json.RawMessage, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own binary: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, self, append(args, "--format", "json")...)
	cmd.Dir = s.deps.RepoDir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %s", args[0], string(ee.Stderr))
		}
		return nil, fmt.Errorf("%s: %w", args[0], err)
	}
	if !json.Valid(out) {
		return nil, fmt.Errorf("%s returned invalid JSON", args[0])
	}
	return json.RawMessage(out), nil
}

func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}, ToolOutput{}, nil
}

func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encoding result: %w", err))
	}
	return rawResult(json.RawMessage(data))
}

func rawResult(raw json.RawMessage) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}, ToolOutput{Data: raw}, nil
}
