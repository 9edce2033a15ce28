// Package indexer replays existing repository history into the graph:
// commit walking with a persisted cursor, a quality gate for noise
// commits, and two-pass LLM extraction per commit.
package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/paths"
)

// stateVersion guards future layout changes of the index-state file.
const stateVersion = 1

// maxProcessedSHAs bounds the processed-commit ring in the state file.
const maxProcessedSHAs = 10_000

// State is the persisted indexing cursor. It is written by the indexer
// only, once per walked commit, so a crash resumes at exact per-commit
// granularity.
type State struct {
	Version             int      `json:"version"`
	LastIndexedSHA      string   `json:"last_indexed_sha"`
	ProcessedSHAs       []string `json:"processed_shas"`
	LastRunAt           float64  `json:"last_run_at"`
	IndexedCommitsCount int      `json:"indexed_commits_count"`
}

// LoadState reads the index-state file; missing or corrupt files yield a
// fresh state.
func LoadState(path string) *State {
	s := &State{Version: stateVersion}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(data, s); err != nil {
		return &State{Version: stateVersion}
	}
	return s
}

// Save writes the state atomically, creating parent directories.
func (s *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index state: %w", err)
	}
	if err := paths.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing index state: %w", err)
	}
	return nil
}

// MarkProcessed advances the cursor past one indexed commit.
func (s *State) MarkProcessed(shortSHA string) {
	s.advance(shortSHA)
	s.IndexedCommitsCount++
}

// MarkSkipped advances the cursor past a quality-gated commit without
// counting it as indexed. Skipped commits still move the cursor, so a
// fully walked HEAD reads as up to date.
func (s *State) MarkSkipped(shortSHA string) {
	s.advance(shortSHA)
}

func (s *State) advance(shortSHA string) {
	s.LastIndexedSHA = shortSHA
	s.ProcessedSHAs = append(s.ProcessedSHAs, shortSHA)
	if len(s.ProcessedSHAs) > maxProcessedSHAs {
		s.ProcessedSHAs = s.ProcessedSHAs[len(s.ProcessedSHAs)-maxProcessedSHAs:]
	}
}

// WasProcessed reports whether a commit is in the processed ring. SHAs
// of differing abbreviation lengths match by prefix.
func (s *State) WasProcessed(shortSHA string) bool {
	if shortSHA == "" {
		return false
	}
	for _, sha := range s.ProcessedSHAs {
		if strings.HasPrefix(sha, shortSHA) || strings.HasPrefix(shortSHA, sha) {
			return true
		}
	}
	return false
}

// TouchRun records the run timestamp used by the cooldown check.
func (s *State) TouchRun(now time.Time) {
	s.LastRunAt = float64(now.UnixNano()) / 1e9
}

// InCooldown reports whether the last run was within window of now.
func (s *State) InCooldown(now time.Time, window time.Duration) bool {
	if s.LastRunAt == 0 {
		return false
	}
	last := time.Unix(0, int64(s.LastRunAt*1e9))
	return now.Sub(last) < window
}
