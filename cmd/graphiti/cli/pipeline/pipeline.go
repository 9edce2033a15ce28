package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/gitcapture"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/graph"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/llm"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
	"github.com/graphiti-dev/graphiti/redact"
)

// itemSeparator joins batch items in the summarization prompt.
var itemSeparator = "\n" + strings.Repeat("=", 80) + "\n"

const summaryPromptTemplate = `You are summarizing captured development activity.

Source: %s
Items: %d %s

Write a single cohesive session summary of the content below. Focus on:
- decisions made and alternatives rejected
- architecture and component structure changes
- bug root causes and their fixes
- dependency additions, removals, and upgrades

Exclude raw code listings and work-in-progress noise. Merge commits may
repeat content already described by their parents; describe such changes
once.

Content:
%s`

// Pipeline summarizes captured items and stores them as episodes.
type Pipeline struct {
	LLM       graph.LLM
	Store     *graph.Store
	Sanitizer *redact.Sanitizer

	// now is swappable for tests.
	now func() time.Time
}

// New builds a pipeline over the given adapter, store, and sanitizer.
func New(llmClient graph.LLM, store *graph.Store, sanitizer *redact.Sanitizer) *Pipeline {
	return &Pipeline{LLM: llmClient, Store: store, Sanitizer: sanitizer, now: time.Now}
}

// SummarizeAndStore joins items, sanitizes them, summarizes via the LLM,
// and emits one episode. The security gate always runs; when the LLM is
// unavailable the sanitized concatenation is stored instead, so the
// user's data still reaches the graph. Returns nil for empty input.
func (p *Pipeline) SummarizeAndStore(ctx context.Context, items []string, source, groupID string, tags []string) (*graph.EpisodeHandle, error) {
	if len(items) == 0 {
		return nil, nil
	}
	joined := strings.Join(items, itemSeparator)

	result := p.Sanitizer.Sanitize(joined, "")
	content := result.Sanitized
	if result.WasModified() {
		logging.Info(ctx, "redacted secrets before summarization",
			slog.String("source", source), slog.Int("findings", len(result.Findings)))
	}

	prompt := fmt.Sprintf(summaryPromptTemplate, source, len(items), itemsLabel(source), content)
	summary, err := p.LLM.Respond(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		if !llm.IsUnavailable(err) {
			return nil, err
		}
		// Sanitization already ran, so storing the raw concatenation is
		// safe.
		logging.Warn(ctx, "llm unavailable, storing concatenation fallback",
			slog.String("source", source), slog.String("error", err.Error()))
		summary = fmt.Sprintf("Session from %s (%d items): %s", source, len(items), content)
	}

	// The random suffix keeps batches stored within the same second from
	// colliding on the store's (name, group) upsert key.
	episode := graph.Episode{
		Name: fmt.Sprintf("%s_%s_%s", source,
			p.now().UTC().Format("2006-01-02T15-04-05"), uuid.NewString()[:8]),
		Body:              summary,
		Source:            source,
		SourceDescription: strings.Join(tags, ","),
		GroupID:           groupID,
		ReferenceTime:     p.now(),
	}
	handle, err := p.Store.AddEpisode(ctx, episode)
	if err != nil {
		return nil, fmt.Errorf("storing episode: %w", err)
	}
	return handle, nil
}

func itemsLabel(source string) string {
	if source == "git_commits" {
		return "commit diffs"
	}
	return "conversation segments"
}

// CommitsResult summarizes one ProcessPendingCommits run.
type CommitsResult struct {
	Drained  int      `json:"drained"`
	Captured int      `json:"captured"`
	Skipped  int      `json:"skipped"`
	Episodes []string `json:"episodes,omitempty"`
}

// ProcessPendingCommits drains the pending-commits file and feeds the
// relevant diffs through the batch accumulator, summarizing each full
// batch and flushing the remainder.
func (p *Pipeline) ProcessPendingCommits(ctx context.Context, pendingPath, repoDir string, batchSize, maxLinesPerFile int, groupID string, filter *gitcapture.RelevanceFilter) (*CommitsResult, error) {
	hashes, err := gitcapture.Drain(pendingPath)
	if err != nil {
		return nil, err
	}
	result := &CommitsResult{Drained: len(hashes)}
	if len(hashes) == 0 {
		return result, nil
	}
	if filter == nil {
		filter = gitcapture.NewRelevanceFilter(nil)
	}

	acc := NewBatchAccumulator(batchSize)
	store := func(batch []string) error {
		if len(batch) == 0 {
			return nil
		}
		handle, err := p.SummarizeAndStore(ctx, batch, "git_commits", groupID, nil)
		if err != nil {
			return err
		}
		if handle != nil {
			result.Episodes = append(result.Episodes, handle.UUID)
		}
		return nil
	}

	for _, hash := range hashes {
		subject, err := gitcapture.CommitSubject(ctx, repoDir, hash)
		if err != nil {
			logging.Warn(ctx, "skipping unreadable commit",
				slog.String("sha", hash), slog.String("error", err.Error()))
			result.Skipped++
			continue
		}
		if relevant, reason := filter.IsRelevant(subject); !relevant {
			logging.Debug(ctx, "commit not relevant",
				slog.String("sha", hash), slog.String("reason", reason))
			result.Skipped++
			continue
		}
		diff, err := gitcapture.FetchCommitDiff(ctx, repoDir, hash, maxLinesPerFile)
		if err != nil {
			logging.Warn(ctx, "skipping commit with unreadable diff",
				slog.String("sha", hash), slog.String("error", err.Error()))
			result.Skipped++
			continue
		}
		result.Captured++
		if err := store(acc.Add(diff)); err != nil {
			return result, err
		}
	}
	if err := store(acc.Flush()); err != nil {
		return result, err
	}
	return result, nil
}
