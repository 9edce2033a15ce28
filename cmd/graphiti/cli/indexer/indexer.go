package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/gitcapture"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/graph"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/llm"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
)

const (
	// DefaultCooldown suppresses back-to-back incremental runs.
	DefaultCooldown = 5 * time.Minute

	// largeDiffLines is the diff size past which the diff body is
	// pre-summarized before extraction.
	largeDiffLines = 300

	// DefaultCharBudget truncates a large diff when pre-summarization
	// itself fails.
	DefaultCharBudget = 12_000

	// sourceDescriptionTag marks every episode this package emits, so a
	// full reset can delete exactly its own output.
	sourceDescriptionTag = "git-history-index"

	shortSHALen = 8
)

// Options select what one Run covers.
type Options struct {
	// Since is a date (contains dash, slash, or space) or a SHA to stop
	// walking at. Empty uses the persisted cursor.
	Since string
	// Full clears the cursor and re-indexes everything, deleting
	// previously indexed episodes first.
	Full bool
}

// Result summarizes one Run.
type Result struct {
	Indexed         int    `json:"indexed"`
	Skipped         int    `json:"skipped"`
	SkippedReason   string `json:"skipped_reason,omitempty"`
	DeletedEpisodes int    `json:"deleted_episodes,omitempty"`
}

// Indexer replays repository history into the graph.
type Indexer struct {
	RepoDir    string
	StatePath  string
	Store      *graph.Store
	LLM        graph.LLM
	GroupID    string
	Cooldown   time.Duration
	CharBudget int

	// now is swappable for tests.
	now func() time.Time
}

// New builds an indexer with default cooldown and char budget.
func New(repoDir, statePath string, store *graph.Store, llmClient graph.LLM, groupID string) *Indexer {
	return &Indexer{
		RepoDir:    repoDir,
		StatePath:  statePath,
		Store:      store,
		LLM:        llmClient,
		GroupID:    groupID,
		Cooldown:   DefaultCooldown,
		CharBudget: DefaultCharBudget,
		now:        time.Now,
	}
}

// Run walks unindexed commits and emits two episodes per commit that
// passes the quality gate. The cursor advances after each commit, so a
// crash resumes exactly where it stopped.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*Result, error) {
	state := LoadState(ix.StatePath)
	now := ix.now()

	if !opts.Full && state.InCooldown(now, ix.Cooldown) {
		return &Result{SkippedReason: "cooldown"}, nil
	}

	result := &Result{}
	if opts.Full {
		deleted, err := ix.Store.DeleteBySourceDescription(ctx, sourceDescriptionTag)
		if err != nil {
			// Dedup on re-ingest is the store's concern; a failed
			// cleanup is not fatal.
			logging.Warn(ctx, "failed to delete indexed episodes before full re-index",
				slog.String("error", err.Error()))
		}
		result.DeletedEpisodes = deleted
		state = &State{Version: stateVersion}
	}
	state.TouchRun(now)
	if err := state.Save(ix.StatePath); err != nil {
		return nil, err
	}

	commits, err := ix.collectCommits(opts, state)
	if err != nil {
		return nil, err
	}

	for _, commit := range commits {
		short := commit.Hash.String()[:shortSHALen]
		if state.WasProcessed(short) {
			continue
		}
		if skip, reason := ShouldSkipCommit(commit); skip {
			logging.Debug(ctx, "quality gate skipped commit",
				slog.String("sha", short), slog.String("reason", reason))
			state.MarkSkipped(short)
			if err := state.Save(ix.StatePath); err != nil {
				return result, err
			}
			result.Skipped++
			continue
		}
		if err := ix.processCommit(ctx, commit, short); err != nil {
			return result, fmt.Errorf("indexing commit %s: %w", short, err)
		}
		state.MarkProcessed(short)
		if err := state.Save(ix.StatePath); err != nil {
			return result, err
		}
		result.Indexed++
	}
	return result, nil
}

// collectCommits returns unindexed commits, oldest first.
func (ix *Indexer) collectCommits(opts Options, state *State) ([]*object.Commit, error) {
	repo, err := git.PlainOpen(ix.RepoDir)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	logOpts := &git.LogOptions{From: head.Hash()}
	stopSHA := ""
	switch {
	case opts.Since != "" && looksLikeDate(opts.Since):
		since, err := parseDate(opts.Since)
		if err != nil {
			return nil, err
		}
		logOpts.Since = &since
	case opts.Since != "":
		stopSHA = opts.Since
	case !opts.Full:
		stopSHA = state.LastIndexedSHA
	}

	iter, err := repo.Log(logOpts)
	if err != nil {
		return nil, fmt.Errorf("walking history: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if stopSHA != "" && strings.HasPrefix(c.Hash.String(), stopSHA) {
			return storer.ErrStop
		}
		commits = append(commits, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking history: %w", err)
	}

	// repo.Log yields newest first; index in chronological order.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// looksLikeDate distinguishes a date argument from a SHA.
func looksLikeDate(since string) bool {
	return strings.ContainsAny(since, "-/ ")
}

func parseDate(since string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006/01/02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, since); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", since)
}

const structuredPromptTemplate = `Analyze this commit and answer four questions:
1. What decision does this commit represent?
2. What changed?
3. Why was the change made?
4. What is the impact?

Commit %s by %s:
%s

%s`

const freeformPromptTemplate = `Extract the entities and relationships in this commit: the
people, components, decisions, bugs, features, and dependencies it
involves, and how they relate.

Commit %s by %s:
%s

%s`

const presummarizePromptTemplate = `Summarize this diff in under 300 words. Keep file names,
decisions, and the nature of each change; drop mechanical detail.

%s`

// processCommit runs both extraction passes and emits their episodes.
func (ix *Indexer) processCommit(ctx context.Context, commit *object.Commit, short string) error {
	diff, err := gitcapture.FetchCommitDiff(ctx, ix.RepoDir, commit.Hash.String(), gitcapture.DefaultMaxLinesPerFile)
	if err != nil {
		return err
	}
	diff = ix.condenseLargeDiff(ctx, diff, short)
	subject := strings.SplitN(commit.Message, "\n", 2)[0]

	structured := fmt.Sprintf(structuredPromptTemplate, short, commit.Author.Name, subject, diff)
	body, err := ix.LLM.Respond(ctx, []llm.Message{{Role: "user", Content: structured}})
	if err != nil {
		return err
	}
	if _, err := ix.Store.AddEpisode(ctx, graph.Episode{
		Name:              fmt.Sprintf("git-%s-structured", short),
		Body:              body,
		Source:            "git_history",
		SourceDescription: fmt.Sprintf("%s:structured:%s", sourceDescriptionTag, short),
		GroupID:           ix.GroupID,
		ReferenceTime:     commit.Author.When,
	}); err != nil {
		return err
	}

	freeform := fmt.Sprintf(freeformPromptTemplate, short, commit.Author.Name, subject, diff)
	body, err = ix.LLM.Respond(ctx, []llm.Message{{Role: "user", Content: freeform}})
	if err != nil {
		return err
	}
	if _, err := ix.Store.AddEpisode(ctx, graph.Episode{
		Name:              fmt.Sprintf("git-%s-freeform", short),
		Body:              body,
		Source:            "git_history",
		SourceDescription: fmt.Sprintf("%s:freeform:%s", sourceDescriptionTag, short),
		GroupID:           ix.GroupID,
		ReferenceTime:     commit.Author.When,
	}); err != nil {
		return err
	}
	return nil
}

// condenseLargeDiff pre-summarizes oversized diffs; when summarization
// fails it truncates to the char budget instead.
func (ix *Indexer) condenseLargeDiff(ctx context.Context, diff, short string) string {
	if strings.Count(diff, "\n") <= largeDiffLines {
		return diff
	}
	summary, err := ix.LLM.Respond(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(presummarizePromptTemplate, diff)},
	})
	if err == nil {
		return summary
	}
	logging.Warn(ctx, "diff pre-summarization failed, truncating",
		slog.String("sha", short), slog.String("error", err.Error()))
	budget := ix.CharBudget
	if budget <= 0 {
		budget = DefaultCharBudget
	}
	if len(diff) > budget {
		return diff[:budget] + "\n... (truncated)"
	}
	return diff
}
