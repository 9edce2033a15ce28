package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/paths"
)

// Metadata tracks, per session, the last transcript turn already
// captured, so hook-driven capture only processes new turns.
type Metadata struct {
	Sessions map[string]SessionMetadata `json:"sessions"`
}

// SessionMetadata is the per-session capture cursor.
type SessionMetadata struct {
	LastCapturedTurn int `json:"last_captured_turn"`
}

// LoadMetadata reads the capture metadata file; a missing file yields
// empty metadata.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Metadata{Sessions: map[string]SessionMetadata{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading capture metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing capture metadata: %w", err)
	}
	if meta.Sessions == nil {
		meta.Sessions = map[string]SessionMetadata{}
	}
	return &meta, nil
}

// LastCapturedTurn returns the session's cursor, 0 when unseen.
func (m *Metadata) LastCapturedTurn(sessionID string) int {
	return m.Sessions[sessionID].LastCapturedTurn
}

// SetLastCapturedTurn advances the session's cursor.
func (m *Metadata) SetLastCapturedTurn(sessionID string, turn int) {
	m.Sessions[sessionID] = SessionMetadata{LastCapturedTurn: turn}
}

// Save writes the metadata atomically, creating parent directories as
// needed. A concurrent multi-agent write race is benign: last writer
// wins, at worst one session recaptures some turns.
func (m *Metadata) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding capture metadata: %w", err)
	}
	if err := paths.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing capture metadata: %w", err)
	}
	return nil
}
