package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/graph"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/llm"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

type testRepo struct {
	dir  string
	repo *git.Repository
	wt   *git.Worktree
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &testRepo{dir: dir, repo: repo, wt: wt}
}

func (r *testRepo) commit(t *testing.T, file, content, message, email string) *object.Commit {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(r.dir, file), []byte(content), 0o644))
	_, err := r.wt.Add(file)
	require.NoError(t, err)
	hash, err := r.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "Dev", Email: email, When: time.Now()},
	})
	require.NoError(t, err)
	commit, err := r.repo.CommitObject(hash)
	require.NoError(t, err)
	return commit
}

func manyLines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "line %d of real content\n", i)
	}
	return b.String()
}

func TestShouldSkipCommit(t *testing.T) {
	r := newTestRepo(t)

	bot := r.commit(t, "a.txt", manyLines(20), "update deps", "12345+renovate[bot]@users.noreply.github.com")
	skip, reason := ShouldSkipCommit(bot)
	assert.True(t, skip)
	assert.Equal(t, "bot author", reason)

	mech := r.commit(t, "b.txt", manyLines(20), "chore(deps): bump x to 1.2", "dev@example.com")
	skip, reason = ShouldSkipCommit(mech)
	assert.True(t, skip)
	assert.Contains(t, reason, "chore(deps):")

	tiny := r.commit(t, "c.txt", "one line\n", "fix small thing", "dev@example.com")
	skip, reason = ShouldSkipCommit(tiny)
	assert.True(t, skip)
	assert.Equal(t, "tiny change", reason)

	bump := r.commit(t, "CHANGELOG.md", manyLines(30), "release notes", "dev@example.com")
	skip, reason = ShouldSkipCommit(bump)
	assert.True(t, skip)
	assert.Equal(t, "version bump", reason)

	real := r.commit(t, "main.go", manyLines(30), "refactor storage layer", "dev@example.com")
	skip, _ = ShouldSkipCommit(real)
	assert.False(t, skip)
}

type recordingLLM struct {
	prompts []string
}

func (r *recordingLLM) Respond(_ context.Context, messages []llm.Message) (string, error) {
	r.prompts = append(r.prompts, messages[len(messages)-1].Content)
	return "extracted knowledge", nil
}

func (r *recordingLLM) RespondStructured(ctx context.Context, messages []llm.Message, _ json.RawMessage) (json.RawMessage, error) {
	out, err := r.Respond(ctx, messages)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

func newTestIndexer(t *testing.T, r *testRepo) (*Indexer, *graph.Store, *recordingLLM) {
	t.Helper()
	store, err := graph.OpenStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	fake := &recordingLLM{}
	ix := New(r.dir, filepath.Join(t.TempDir(), "index-state.json"), store, fake, "project_test")
	return ix, store, fake
}

func TestIndexerRun(t *testing.T) {
	r := newTestRepo(t)
	r.commit(t, "main.go", manyLines(30), "design the capture component", "dev@example.com")
	r.commit(t, "tiny.txt", "x\n", "typo", "dev@example.com")
	r.commit(t, "store.go", manyLines(40), "fix crash in storage layer", "dev@example.com")

	ix, store, fake := newTestIndexer(t, r)
	ctx := context.Background()

	result, err := ix.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.Skipped)

	// Two passes per indexed commit.
	assert.Len(t, fake.prompts, 4)

	eps, err := store.List(ctx, "project_test", 50)
	require.NoError(t, err)
	require.Len(t, eps, 4)
	structured, freeform := 0, 0
	for _, ep := range eps {
		switch {
		case strings.Contains(ep.SourceDescription, "git-history-index:structured:"):
			structured++
		case strings.Contains(ep.SourceDescription, "git-history-index:freeform:"):
			freeform++
		}
	}
	assert.Equal(t, 2, structured)
	assert.Equal(t, 2, freeform)

	state := LoadState(ix.StatePath)
	assert.Equal(t, 2, state.IndexedCommitsCount)
	assert.NotEmpty(t, state.LastIndexedSHA)
}

func TestIndexerSkippedHeadAdvancesCursor(t *testing.T) {
	r := newTestRepo(t)
	r.commit(t, "main.go", manyLines(30), "design the capture component", "dev@example.com")
	head := r.commit(t, "tiny.txt", "x\n", "typo", "dev@example.com")

	ix, _, _ := newTestIndexer(t, r)
	ctx := context.Background()

	result, err := ix.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Skipped)

	state := LoadState(ix.StatePath)
	assert.Equal(t, head.Hash.String()[:shortSHALen], state.LastIndexedSHA,
		"gate-skipped HEAD still moves the cursor")
	assert.Equal(t, 1, state.IndexedCommitsCount)

	// The next run walks nothing: everything up to HEAD is done.
	ix.Cooldown = 0
	result, err = ix.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Indexed)
	assert.Equal(t, 0, result.Skipped, "skipped commits are not re-examined")
}

func TestIndexerIncrementalResume(t *testing.T) {
	r := newTestRepo(t)
	r.commit(t, "a.go", manyLines(30), "design component a", "dev@example.com")

	ix, _, fake := newTestIndexer(t, r)
	ctx := context.Background()

	result, err := ix.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Indexed)
	firstPrompts := len(fake.prompts)

	// New commit; cooldown must be bypassed for the test.
	r.commit(t, "b.go", manyLines(30), "refactor component b", "dev@example.com")
	ix.Cooldown = 0

	result, err = ix.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed, "only the new commit is processed")
	assert.Len(t, fake.prompts, firstPrompts+2)
}

func TestIndexerCooldown(t *testing.T) {
	r := newTestRepo(t)
	r.commit(t, "a.go", manyLines(30), "design component a", "dev@example.com")

	ix, _, _ := newTestIndexer(t, r)
	ctx := context.Background()

	_, err := ix.Run(ctx, Options{})
	require.NoError(t, err)

	result, err := ix.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "cooldown", result.SkippedReason)
	assert.Equal(t, 0, result.Indexed)
}

func TestIndexerFullResetDeletesOwnEpisodes(t *testing.T) {
	r := newTestRepo(t)
	r.commit(t, "a.go", manyLines(30), "design component a", "dev@example.com")

	ix, store, _ := newTestIndexer(t, r)
	ctx := context.Background()

	// A manual episode that a full reset must not touch.
	_, err := store.AddEpisode(ctx, graph.Episode{
		Name: "manual-note", Body: "keep me", GroupID: "project_test", SourceDescription: "manual",
	})
	require.NoError(t, err)

	_, err = ix.Run(ctx, Options{})
	require.NoError(t, err)
	before, _ := store.Count(ctx, "project_test")
	require.Equal(t, 3, before)

	result, err := ix.Run(ctx, Options{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedEpisodes, "only indexer-tagged episodes deleted")
	assert.Equal(t, 1, result.Indexed, "everything re-indexed")

	after, _ := store.Count(ctx, "project_test")
	assert.Equal(t, 3, after)
}
