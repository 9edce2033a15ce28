package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
)

// Store persists episodes in an embedded database under a scope's
// .graphiti directory. Episodes are deduped on (name, group_id): a
// re-ingested episode replaces its body rather than duplicating.
type Store struct {
	db       *sql.DB
	embedder Embedder
	now      func() time.Time
}

// OpenStore opens (or creates) the episode database in dir. embedder is
// optional; when set, episode bodies are embedded on write, best effort.
func OpenStore(dir string, embedder Embedder) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating graph directory: %w", err)
	}
	dbPath := filepath.Join(dir, "episodes.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening episode database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS episodes (
			uuid               TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			body               TEXT NOT NULL,
			source             TEXT NOT NULL DEFAULT '',
			source_description TEXT NOT NULL DEFAULT '',
			group_id           TEXT NOT NULL,
			reference_time     REAL NOT NULL,
			created_at         REAL NOT NULL,
			embedding          TEXT,
			UNIQUE (name, group_id)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating episodes table: %w", err)
	}
	return &Store{db: db, embedder: embedder, now: time.Now}, nil
}

// Close closes the episode database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddEpisode stores an episode, replacing any existing episode with the
// same name and group. Embedding failures are logged, never fatal.
func (s *Store) AddEpisode(ctx context.Context, ep Episode) (*EpisodeHandle, error) {
	if ep.UUID == "" {
		ep.UUID = uuid.NewString()
	}
	if ep.ReferenceTime.IsZero() {
		ep.ReferenceTime = s.now()
	}
	var embedding any
	if s.embedder != nil {
		vec, err := s.embedder.Create(ctx, ep.Body)
		if err != nil {
			logging.Warn(ctx, "episode embedding failed",
				slog.String("name", ep.Name), slog.String("error", err.Error()))
		} else if raw, err := json.Marshal(vec); err == nil {
			embedding = string(raw)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (uuid, name, body, source, source_description, group_id, reference_time, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, group_id) DO UPDATE SET
			body = excluded.body,
			source = excluded.source,
			source_description = excluded.source_description,
			reference_time = excluded.reference_time,
			embedding = excluded.embedding`,
		ep.UUID, ep.Name, ep.Body, ep.Source, ep.SourceDescription, ep.GroupID,
		unixFloat(ep.ReferenceTime), unixFloat(s.now()), embedding,
	)
	if err != nil {
		return nil, fmt.Errorf("storing episode: %w", err)
	}
	// The conflict path keeps the original row's uuid; read it back.
	var storedUUID string
	if err := s.db.QueryRowContext(ctx,
		`SELECT uuid FROM episodes WHERE name = ? AND group_id = ?`, ep.Name, ep.GroupID,
	).Scan(&storedUUID); err != nil {
		return nil, fmt.Errorf("reading stored episode: %w", err)
	}
	return &EpisodeHandle{UUID: storedUUID, Name: ep.Name, GroupID: ep.GroupID}, nil
}

// Search returns episodes whose name or body contains query,
// case-insensitive, newest first. An empty groupID searches all groups.
func (s *Store) Search(ctx context.Context, query, groupID string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(query) + "%"
	where := `(LOWER(name) LIKE ? OR LOWER(body) LIKE ?)`
	args := []any{pattern, pattern}
	if groupID != "" {
		where += ` AND group_id = ?`
		args = append(args, groupID)
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, name, body, source, source_description, group_id, reference_time, created_at
		 FROM episodes WHERE `+where+` ORDER BY reference_time DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching episodes: %w", err)
	}
	return scanEpisodes(rows)
}

// List returns episodes in a group, newest first.
func (s *Store) List(ctx context.Context, groupID string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := "1=1", []any{}
	if groupID != "" {
		where, args = "group_id = ?", []any{groupID}
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, name, body, source, source_description, group_id, reference_time, created_at
		 FROM episodes WHERE `+where+` ORDER BY reference_time DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing episodes: %w", err)
	}
	return scanEpisodes(rows)
}

// Show returns one episode by UUID.
func (s *Store) Show(ctx context.Context, id string) (*Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, name, body, source, source_description, group_id, reference_time, created_at
		 FROM episodes WHERE uuid = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("loading episode: %w", err)
	}
	eps, err := scanEpisodes(rows)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("episode %s not found", id)
	}
	return &eps[0], nil
}

// Delete removes one episode by UUID.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE uuid = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s not found", id)
	}
	return nil
}

// DeleteBySourceDescription removes every episode whose source
// description contains substr. Used by the indexer's full reset.
func (s *Store) DeleteBySourceDescription(ctx context.Context, substr string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM episodes WHERE source_description LIKE ?`, "%"+substr+"%")
	if err != nil {
		return 0, fmt.Errorf("deleting episodes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of episodes in a group (all groups when empty).
func (s *Store) Count(ctx context.Context, groupID string) (int, error) {
	var n int
	var err error
	if groupID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes WHERE group_id = ?`, groupID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("counting episodes: %w", err)
	}
	return n, nil
}

// Reembed recomputes embeddings for every episode in a group using the
// store's embedder. Returns the number of episodes re-embedded.
func (s *Store) Reembed(ctx context.Context, groupID string) (int, error) {
	if s.embedder == nil {
		return 0, fmt.Errorf("no embedder configured")
	}
	eps, err := s.List(ctx, groupID, 1_000_000)
	if err != nil {
		return 0, err
	}
	texts := make([]string, len(eps))
	for i, ep := range eps {
		texts[i] = ep.Body
	}
	vectors, err := s.embedder.CreateBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, ep := range eps {
		raw, err := json.Marshal(vectors[i])
		if err != nil {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE episodes SET embedding = ? WHERE uuid = ?`, string(raw), ep.UUID); err != nil {
			return i, fmt.Errorf("updating embedding: %w", err)
		}
	}
	return len(eps), nil
}

func scanEpisodes(rows *sql.Rows) ([]Episode, error) {
	defer rows.Close()
	var eps []Episode
	for rows.Next() {
		var ep Episode
		var refTime, createdAt float64
		if err := rows.Scan(&ep.UUID, &ep.Name, &ep.Body, &ep.Source, &ep.SourceDescription,
			&ep.GroupID, &refTime, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		ep.ReferenceTime = timeFromUnixFloat(refTime)
		ep.CreatedAt = timeFromUnixFloat(createdAt)
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnixFloat(f float64) time.Time {
	return time.Unix(0, int64(f*1e9))
}
