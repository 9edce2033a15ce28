package indexer

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index-state.json")
	s := LoadState(path)
	assert.Empty(t, s.LastIndexedSHA)

	s.MarkProcessed("abcd1234")
	s.MarkProcessed("ef567890")
	s.TouchRun(time.Now())
	require.NoError(t, s.Save(path))

	loaded := LoadState(path)
	assert.Equal(t, "ef567890", loaded.LastIndexedSHA)
	assert.Equal(t, 2, loaded.IndexedCommitsCount)
	assert.True(t, loaded.WasProcessed("abcd1234"))
	assert.False(t, loaded.WasProcessed("deadbeef"))
}

func TestStateTrimsProcessedSHAs(t *testing.T) {
	s := &State{Version: stateVersion}
	for i := 0; i < maxProcessedSHAs+50; i++ {
		s.MarkProcessed(fmt.Sprintf("sha%07d", i))
	}
	assert.Len(t, s.ProcessedSHAs, maxProcessedSHAs)
	assert.False(t, s.WasProcessed("sha0000000"), "oldest entries trimmed")
	assert.True(t, s.WasProcessed(fmt.Sprintf("sha%07d", maxProcessedSHAs+49)))
	assert.Equal(t, maxProcessedSHAs+50, s.IndexedCommitsCount, "count survives trimming")
}

func TestStateMarkSkipped(t *testing.T) {
	s := &State{Version: stateVersion}
	s.MarkProcessed("abcd1234")
	s.MarkSkipped("ef567890")

	assert.Equal(t, "ef567890", s.LastIndexedSHA, "skipped commits move the cursor")
	assert.Equal(t, 1, s.IndexedCommitsCount, "skipped commits are not counted as indexed")
	assert.True(t, s.WasProcessed("ef567890"))
}

func TestWasProcessedPrefixTolerant(t *testing.T) {
	s := &State{Version: stateVersion}
	s.MarkProcessed("abcd1234")

	assert.True(t, s.WasProcessed("abcd123"), "shorter abbreviation matches")
	assert.True(t, s.WasProcessed("abcd12345678"), "longer abbreviation matches")
	assert.False(t, s.WasProcessed("dead"))
	assert.False(t, s.WasProcessed(""))
}

func TestStateCooldown(t *testing.T) {
	s := &State{Version: stateVersion}
	now := time.Now()
	assert.False(t, s.InCooldown(now, DefaultCooldown), "fresh state never cools down")

	s.TouchRun(now)
	assert.True(t, s.InCooldown(now.Add(4*time.Minute), DefaultCooldown))
	assert.False(t, s.InCooldown(now.Add(5*time.Minute+time.Second), DefaultCooldown))
}

func TestStateCorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index-state.json")
	require.NoError(t, (&State{}).Save(path))
	require.NoError(t, writeFile(path, "{not json"))

	s := LoadState(path)
	assert.Empty(t, s.LastIndexedSHA)
	assert.Equal(t, stateVersion, s.Version)
}

func TestLooksLikeDate(t *testing.T) {
	assert.True(t, looksLikeDate("2026-08-01"))
	assert.True(t, looksLikeDate("2026/08/01"))
	assert.True(t, looksLikeDate("2026-08-01 12:00:00"))
	assert.False(t, looksLikeDate("abcd1234"))
	assert.False(t, looksLikeDate("deadbeefcafe"))
}
