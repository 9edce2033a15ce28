package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Job types the worker knows how to dispatch.
const (
	// JobCaptureGitCommits drains the pending-commits file and
	// summarizes the relevant diffs.
	JobCaptureGitCommits = "capture_git_commits"
	// JobCaptureConversation captures an assistant transcript.
	JobCaptureConversation = "capture_conversation"
	// JobIndexHistory replays repository history into the graph.
	JobIndexHistory = "index_history"
	// JobCliReplay re-runs an arbitrary CLI command as a subprocess.
	JobCliReplay = "cli"
)

// CaptureGitCommitsPayload is the structured payload for
// JobCaptureGitCommits.
type CaptureGitCommitsPayload struct {
	PendingFile     string `json:"pending_file"`
	RepoDir         string `json:"repo_dir"`
	BatchSize       int    `json:"batch_size,omitempty"`
	MaxLinesPerFile int    `json:"max_lines_per_file,omitempty"`
	GroupID         string `json:"group_id"`
}

// CaptureConversationPayload is the structured payload for
// JobCaptureConversation.
type CaptureConversationPayload struct {
	TranscriptPath string `json:"transcript_path"`
	SessionID      string `json:"session_id"`
	Auto           bool   `json:"auto"`
	GroupID        string `json:"group_id"`
}

// IndexHistoryPayload is the structured payload for JobIndexHistory.
type IndexHistoryPayload struct {
	RepoDir string `json:"repo_dir"`
	Since   string `json:"since,omitempty"`
	Full    bool   `json:"full,omitempty"`
}

// CliReplayPayload reconstructs a CLI invocation.
type CliReplayPayload struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Kwargs  map[string]string `json:"kwargs,omitempty"`
}

// Handler executes one job's payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Dispatcher routes jobs by type: structured types go to in-process
// handlers, everything else is replayed through the CLI binary. The CLI
// stays the single source of truth while known-structured work avoids
// the subprocess hop.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher returns a dispatcher with only the CLI-replay fallback.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}}
}

// Register installs an in-process handler for a job type.
func (d *Dispatcher) Register(jobType string, handler Handler) {
	d.handlers[jobType] = handler
}

// Dispatch executes one job.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	if handler, ok := d.handlers[job.Type]; ok {
		return handler(ctx, job.Payload)
	}
	if job.Type == JobCliReplay {
		var payload CliReplayPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decoding cli replay payload: %w", err)
		}
		return replayCli(ctx, payload)
	}
	return fmt.Errorf("unknown job type %q", job.Type)
}

// replayCli re-runs this binary with the reconstructed command line.
func replayCli(ctx context.Context, payload CliReplayPayload) error {
	if payload.Command == "" {
		return fmt.Errorf("cli replay payload has no command")
	}
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own binary: %w", err)
	}
	args := append([]string{payload.Command}, payload.Args...)
	keys := make([]string, 0, len(payload.Kwargs))
	for k := range payload.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+k, payload.Kwargs[k])
	}
	cmd := exec.CommandContext(ctx, self, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cli replay %q failed: %s: %w",
			payload.Command, strings.TrimSpace(string(output)), err)
	}
	return nil
}
