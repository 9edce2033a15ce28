package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/indexer"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
)

// ContextResourceURI is fetched by the assistant at session start.
const ContextResourceURI = "graphiti://context"

// DefaultTokenBudget caps the context resource; roughly 4 chars/token.
const (
	DefaultTokenBudget = 8192
	charsPerToken      = 4
)

// stalenessBudget bounds the HEAD-vs-cursor comparison; the check must
// never delay the resource fetch noticeably.
const stalenessBudget = 10 * time.Millisecond

// registerContextResource serves the project context: recent decisions
// and architecture knowledge, within the token budget. When the index
// cursor is behind HEAD, a detached re-index starts and the possibly
// stale context is returned immediately.
func (s *Server) registerContextResource() {
	s.inner.AddResource(&mcpsdk.Resource{
		URI:         ContextResourceURI,
		Name:        "context",
		Description: "Project knowledge context for the current repository.",
		MIMEType:    "text/plain",
	}, func(ctx context.Context, _ *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
		if s.indexIsStale(ctx) {
			if err := SpawnDetached("index"); err != nil {
				logging.Warn(ctx, "failed to start background re-index",
					slog.String("error", err.Error()))
			} else {
				logging.Info(ctx, "index stale, started background re-index")
			}
		}
		text, err := s.contextText(ctx)
		if err != nil {
			return nil, err
		}
		return &mcpsdk.ReadResourceResult{
			Contents: []*mcpsdk.ResourceContents{{
				URI:      ContextResourceURI,
				MIMEType: "text/plain",
				Text:     text,
			}},
		}, nil
	})
}

// indexIsStale compares HEAD's short SHA against the index cursor
// within the staleness budget. Any failure or timeout reads as stale:
// re-indexing is cheap and non-blocking.
func (s *Server) indexIsStale(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, stalenessBudget)
	defer cancel()

	state := indexer.LoadState(s.deps.IndexStatePath)
	if state.LastIndexedSHA == "" {
		return true
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--short", "HEAD")
	cmd.Dir = s.deps.RepoDir
	out, err := cmd.Output()
	if err != nil {
		return true
	}
	return !indexCursorFresh(state, strings.TrimSpace(string(out)))
}

// indexCursorFresh reports whether HEAD needs no re-index: it either
// matches the cursor or sits in the processed ring. Skipped commits
// advance the cursor too, so a quality-gated HEAD reads as fresh. After
// a branch switch HEAD can sit behind the cursor; the ring covers that.
func indexCursorFresh(state *indexer.State, head string) bool {
	if cursorMatchesHead(state.LastIndexedSHA, head) {
		return true
	}
	return state.WasProcessed(head)
}

// cursorMatchesHead tolerates differing abbreviation lengths between the
// stored cursor and git's short SHA output.
func cursorMatchesHead(cursor, head string) bool {
	if cursor == "" || head == "" {
		return false
	}
	return strings.HasPrefix(head, cursor) || strings.HasPrefix(cursor, head)
}

// contextText runs a short search for decision and architecture topics
// and trims it to the token budget.
func (s *Server) contextText(ctx context.Context) (string, error) {
	raw, err := s.runCli(ctx, readTimeout, []string{"search", "decision architecture design"})
	if err != nil {
		return "", fmt.Errorf("fetching context: %w", err)
	}
	return truncateToBudget(string(raw), s.deps.TokenBudget), nil
}

func truncateToBudget(text string, tokens int) string {
	budget := tokens * charsPerToken
	if len(text) <= budget {
		return text
	}
	return text[:budget] + "\n... (truncated)"
}
