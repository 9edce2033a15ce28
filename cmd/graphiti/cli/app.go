package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/config"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/gitcapture"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/graph"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/indexer"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/jobqueue"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/llm"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/paths"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/pipeline"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/transcript"
	"github.com/graphiti-dev/graphiti/redact"
)

// App carries the resolved scope and lazily constructed subsystems for
// one command invocation. Commands build only what they touch; a search
// never opens the job store and a queue listing never dials the LLM.
type App struct {
	Scope       paths.Scope
	ProjectRoot string
	StateDir    string
	GroupID     string
	Config      *config.Config
	JSON        bool

	store     *graph.Store
	llmClient *llm.Client
	llmQueue  *llm.Queue
	llmState  *llm.State
	sanitizer *redact.Sanitizer
	jobs      *jobqueue.Store
}

// newApp resolves the scope from the root flags, initializes logging,
// and loads the configuration.
func newApp(opts *rootOptions) (*App, error) {
	if opts.global && opts.project {
		return nil, &UsageError{Msg: "--global and --project are mutually exclusive"}
	}

	var scope paths.Scope
	var projectRoot string
	switch {
	case opts.global:
		scope = paths.ScopeGlobal
	case opts.project:
		root, err := paths.ProjectRoot()
		if err != nil {
			return nil, err
		}
		scope, projectRoot = paths.ScopeProject, root
	default:
		scope, projectRoot = paths.DetermineScope(true)
	}

	stateDir, err := paths.EnsureStateDir(scope, projectRoot)
	if err != nil {
		return nil, err
	}
	logging.Init(stateDir)

	globalDir, err := paths.GlobalDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(filepath.Join(globalDir, paths.LLMConfigFile))
	if err != nil {
		return nil, err
	}
	logging.SetLogLevelGetter(func() string { return cfg.Logging.Level })

	return &App{
		Scope:       scope,
		ProjectRoot: projectRoot,
		StateDir:    stateDir,
		GroupID:     scope.GroupID(projectRoot),
		Config:      cfg,
		JSON:        opts.format == formatJSON,
	}, nil
}

// Close releases everything the invocation opened.
func (a *App) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.llmQueue != nil {
		_ = a.llmQueue.Close()
	}
	if a.jobs != nil {
		_ = a.jobs.Close()
	}
	logging.Close()
}

// LLM returns the transport client, opening the failed-request queue and
// cooldown state on first use.
func (a *App) LLM() (*llm.Client, error) {
	if a.llmClient != nil {
		return a.llmClient, nil
	}
	globalDir, err := paths.GlobalDir()
	if err != nil {
		return nil, err
	}
	a.llmState = llm.LoadState(filepath.Join(globalDir, paths.LLMStateFile))
	queue, err := llm.OpenQueue(
		filepath.Join(globalDir, paths.LLMQueueDir),
		paths.HostID(),
		a.Config.Queue.MaxItems,
		time.Duration(a.Config.Queue.TTLHours)*time.Hour,
	)
	if err != nil {
		return nil, err
	}
	a.llmQueue = queue
	a.llmClient = llm.NewClient(a.Config, a.llmState, queue)
	return a.llmClient, nil
}

// LLMQueue returns the failed-request queue.
func (a *App) LLMQueue() (*llm.Queue, error) {
	if _, err := a.LLM(); err != nil {
		return nil, err
	}
	return a.llmQueue, nil
}

// LLMState returns the persisted cooldown and quota state.
func (a *App) LLMState() (*llm.State, error) {
	if _, err := a.LLM(); err != nil {
		return nil, err
	}
	return a.llmState, nil
}

// Store returns the episode store for the resolved scope, embedding
// through the local endpoint.
func (a *App) Store() (*graph.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	client, err := a.LLM()
	if err != nil {
		return nil, err
	}
	dbDir, err := paths.DatabaseDir(a.Scope, a.ProjectRoot)
	if err != nil {
		return nil, err
	}
	store, err := graph.OpenStore(dbDir, graph.NewEmbedAdapter(client))
	if err != nil {
		return nil, err
	}
	a.store = store
	return a.store, nil
}

// Sanitizer returns the security filter wired to this scope's allowlist
// and audit log.
func (a *App) Sanitizer() (*redact.Sanitizer, error) {
	if a.sanitizer != nil {
		return a.sanitizer, nil
	}
	allowlist, err := redact.LoadAllowlist(filepath.Join(a.StateDir, paths.AllowlistFile))
	if err != nil {
		return nil, err
	}
	audit := redact.NewAuditLog(filepath.Join(a.StateDir, paths.AuditLogFile))
	a.sanitizer = redact.New(allowlist, audit)
	return a.sanitizer, nil
}

// Pipeline returns the capture pipeline over this scope's store.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	client, err := a.LLM()
	if err != nil {
		return nil, err
	}
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	sanitizer, err := a.Sanitizer()
	if err != nil {
		return nil, err
	}
	return pipeline.New(graph.NewLLMAdapter(client), store, sanitizer), nil
}

// Jobs returns the background job store.
func (a *App) Jobs() (*jobqueue.Store, error) {
	if a.jobs != nil {
		return a.jobs, nil
	}
	jobs, err := jobqueue.OpenStore(
		filepath.Join(a.StateDir, paths.JobQueueDir), a.Config.Queue.JobSoftCap)
	if err != nil {
		return nil, err
	}
	a.jobs = jobs
	return a.jobs, nil
}

// IndexStatePath returns this scope's indexer cursor file.
func (a *App) IndexStatePath() string {
	return filepath.Join(a.StateDir, paths.IndexStateFile)
}

// MetadataPath returns this scope's capture metadata file.
func (a *App) MetadataPath() string {
	return filepath.Join(a.StateDir, paths.CaptureMetadataFile)
}

// Dispatcher builds the job dispatch table. Structured job types run
// in-process; anything else falls back to CLI replay.
func (a *App) Dispatcher() (*jobqueue.Dispatcher, error) {
	pipe, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	client, err := a.LLM()
	if err != nil {
		return nil, err
	}

	d := jobqueue.NewDispatcher()
	d.Register(jobqueue.JobCaptureGitCommits, func(ctx context.Context, raw json.RawMessage) error {
		var payload jobqueue.CaptureGitCommitsPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decoding commit capture payload: %w", err)
		}
		if payload.BatchSize <= 0 {
			payload.BatchSize = pipeline.DefaultBatchSize
		}
		if payload.MaxLinesPerFile <= 0 {
			payload.MaxLinesPerFile = gitcapture.DefaultMaxLinesPerFile
		}
		_, err := pipe.ProcessPendingCommits(ctx,
			payload.PendingFile, payload.RepoDir,
			payload.BatchSize, payload.MaxLinesPerFile, payload.GroupID, nil)
		return err
	})
	d.Register(jobqueue.JobCaptureConversation, func(ctx context.Context, raw json.RawMessage) error {
		var payload jobqueue.CaptureConversationPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decoding conversation capture payload: %w", err)
		}
		content, lastTurn, err := transcript.Capture(
			payload.TranscriptPath, a.MetadataPath(), payload.SessionID, payload.Auto)
		if err != nil {
			return err
		}
		if content == "" {
			return nil
		}
		if _, err := pipe.SummarizeAndStore(ctx, []string{content}, "conversation", payload.GroupID, nil); err != nil {
			// The cursor has not moved, so a retry captures the same
			// turns again.
			return err
		}
		if payload.Auto {
			return transcript.Commit(a.MetadataPath(), payload.SessionID, lastTurn)
		}
		return nil
	})
	d.Register(jobqueue.JobIndexHistory, func(ctx context.Context, raw json.RawMessage) error {
		var payload jobqueue.IndexHistoryPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decoding index payload: %w", err)
		}
		ix := indexer.New(payload.RepoDir, a.IndexStatePath(), store,
			graph.NewLLMAdapter(client), a.GroupID)
		_, err := ix.Run(ctx, indexer.Options{Since: payload.Since, Full: payload.Full})
		return err
	})
	return d, nil
}

// runJobs starts the worker when jobs are pending and blocks until the
// queue drains or the context is canceled.
func (a *App) runJobs(ctx context.Context) error {
	jobs, err := a.Jobs()
	if err != nil {
		return err
	}
	dispatcher, err := a.Dispatcher()
	if err != nil {
		return err
	}
	worker := jobqueue.NewWorker(jobs, dispatcher,
		a.Config.Queue.Workers, a.Config.Queue.MaxRetries, jobqueue.DefaultBackoffBase)
	if !worker.StartIfPending() {
		return nil
	}
	defer worker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		pending, err := jobs.PendingCount()
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
	}
}

// emit writes the command result: JSON when --format json, otherwise the
// text renderer.
func (a *App) emit(v any, text func(w io.Writer)) error {
	if a.JSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	text(os.Stdout)
	return nil
}
