package llm

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/paths"
)

// State is the persisted transport state: the cloud cooldown deadline and
// the daily quota counter. It lives in llm_state.json, is loaded once at
// startup, and rewritten on every change. The transport is the single
// writer, so no cross-process lock is needed.
type State struct {
	path string

	mu sync.Mutex
	// CooldownUntil is the UNIX timestamp until which cloud is skipped.
	CooldownUntil float64 `json:"cooldown_until"`
	// QuotaDate is the UTC day the counter applies to (YYYY-MM-DD).
	QuotaDate string `json:"quota_date,omitempty"`
	// QuotaUsed counts cloud requests made on QuotaDate.
	QuotaUsed int `json:"quota_used,omitempty"`
}

// LoadState reads llm_state.json at path; a missing file yields zero state.
func LoadState(path string) *State {
	s := &State{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	// A corrupt state file resets to zero state rather than failing.
	_ = json.Unmarshal(data, s)
	return s
}

// InCooldown reports whether cloud is cooling down at time now.
func (s *State) InCooldown(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(now.Unix()) < s.CooldownUntil
}

// SetCooldown records a cooldown deadline and persists it.
func (s *State) SetCooldown(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CooldownUntil = float64(until.Unix())
	s.saveLocked()
}

// CooldownDeadline returns the current cooldown deadline as a time.
func (s *State) CooldownDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Unix(int64(s.CooldownUntil), 0)
}

// CountCloudRequest bumps the daily quota counter and reports whether the
// limit is now exceeded. A limit of 0 disables quota tracking.
func (s *State) CountCloudRequest(now time.Time, dailyLimit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := now.UTC().Format("2006-01-02")
	if s.QuotaDate != day {
		s.QuotaDate = day
		s.QuotaUsed = 0
	}
	s.QuotaUsed++
	s.saveLocked()
	return dailyLimit > 0 && s.QuotaUsed > dailyLimit
}

// QuotaExceeded reports whether the daily limit is already spent, without
// counting a new request.
func (s *State) QuotaExceeded(now time.Time, dailyLimit int) bool {
	if dailyLimit <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	day := now.UTC().Format("2006-01-02")
	if s.QuotaDate != day {
		return false
	}
	return s.QuotaUsed >= dailyLimit
}

func (s *State) saveLocked() {
	if s.path == "" {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = paths.WriteFileAtomic(s.path, append(data, '\n'), 0o600)
}
