// Package jobqueue is the persistent background job system: an embedded
// job store with sequential barriers, a worker with exponential retry
// backoff, and a dead-letter table for exhausted jobs.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
)

// Queue sizing defaults.
const (
	// DefaultSoftCap is the pending-job count past which enqueue warns.
	// Enqueue never rejects.
	DefaultSoftCap = 100

	// DefaultMaxRetries is how many failures move a job to dead letter.
	DefaultMaxRetries = 3
)

// Job is one persisted unit of background work.
type Job struct {
	ID       string          `json:"id"`
	Type     string          `json:"job_type"`
	Payload  json.RawMessage `json:"payload"`
	Parallel bool            `json:"parallel"`
	Attempts int             `json:"attempts"`

	seq int64
}

// DeadLetter is an exhausted job moved out of the main table.
type DeadLetter struct {
	ID         string          `json:"id"`
	Type       string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	FinalError string          `json:"final_error"`
	FailedAt   time.Time       `json:"failed_at"`
}

// Store persists jobs and dead letters in one embedded database. WAL
// mode lets the status command read concurrently with the worker.
type Store struct {
	db      *sql.DB
	softCap int
	now     func() time.Time
}

// OpenStore opens (or creates) the job database in dir.
func OpenStore(dir string, softCap int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating job queue directory: %w", err)
	}
	dbPath := filepath.Join(dir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening job database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL,
			job_type    TEXT NOT NULL,
			payload     TEXT NOT NULL,
			parallel    INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			enqueued_at REAL NOT NULL
		);
		CREATE TABLE IF NOT EXISTS dead_letter_jobs (
			id          TEXT NOT NULL,
			job_type    TEXT NOT NULL,
			payload     TEXT NOT NULL,
			retry_count INTEGER NOT NULL,
			final_error TEXT NOT NULL,
			failed_at   REAL NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating job tables: %w", err)
	}
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}
	return &Store{db: db, softCap: softCap, now: time.Now}, nil
}

// Close closes the job database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue persists a job and returns its ID. Jobs are accepted
// unconditionally; crossing 80% or 100% of the soft cap logs a warning.
func (s *Store) Enqueue(jobType string, payload any, parallel bool) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding job payload: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO jobs (id, job_type, payload, parallel, attempts, enqueued_at) VALUES (?, ?, ?, ?, 0, ?)`,
		id, jobType, string(raw), boolInt(parallel), float64(s.now().UnixNano())/1e9,
	)
	if err != nil {
		return "", fmt.Errorf("enqueueing job: %w", err)
	}
	if pending, err := s.PendingCount(); err == nil {
		switch {
		case pending >= s.softCap:
			logging.Warn(context.Background(), "job queue at capacity",
				slog.Int("pending", pending), slog.Int("soft_cap", s.softCap))
		case pending*10 >= s.softCap*8:
			logging.Warn(context.Background(), "job queue near capacity",
				slog.Int("pending", pending), slog.Int("soft_cap", s.softCap))
		}
	}
	return id, nil
}

// PendingCount returns the number of jobs awaiting execution.
func (s *Store) PendingCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return n, nil
}

// GetBatch returns the next batch of jobs honoring sequential barriers:
// a sequential job is always alone in its batch, and a run of parallel
// jobs stops at the first sequential job, which stays at the head for
// the next call.
func (s *Store) GetBatch(maxItems int) ([]Job, error) {
	if maxItems <= 0 {
		maxItems = 1
	}
	rows, err := s.db.Query(
		`SELECT seq, id, job_type, payload, parallel, attempts FROM jobs ORDER BY seq ASC LIMIT ?`, maxItems)
	if err != nil {
		return nil, fmt.Errorf("reading jobs: %w", err)
	}
	defer rows.Close()

	var batch []Job
	for rows.Next() {
		var job Job
		var payload string
		var parallel int
		if err := rows.Scan(&job.seq, &job.ID, &job.Type, &payload, &parallel, &job.Attempts); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		job.Payload = json.RawMessage(payload)
		job.Parallel = parallel != 0

		if len(batch) == 0 {
			batch = append(batch, job)
			if !job.Parallel {
				break
			}
			continue
		}
		if !job.Parallel {
			// Sequential barrier: leave it at the head.
			break
		}
		batch = append(batch, job)
	}
	return batch, rows.Err()
}

// Ack removes a completed job.
func (s *Store) Ack(job Job) error {
	if _, err := s.db.Exec(`DELETE FROM jobs WHERE seq = ?`, job.seq); err != nil {
		return fmt.Errorf("acking job: %w", err)
	}
	return nil
}

// Nack records a failure, incrementing the persisted attempt count. The
// job keeps its queue position.
func (s *Store) Nack(job Job) (int, error) {
	if _, err := s.db.Exec(`UPDATE jobs SET attempts = attempts + 1 WHERE seq = ?`, job.seq); err != nil {
		return 0, fmt.Errorf("nacking job: %w", err)
	}
	var attempts int
	if err := s.db.QueryRow(`SELECT attempts FROM jobs WHERE seq = ?`, job.seq).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("reading job attempts: %w", err)
	}
	return attempts, nil
}

// MoveToDeadLetter atomically removes a job from the main table and
// records it as a dead letter with its final error.
func (s *Store) MoveToDeadLetter(job Job, finalError string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting dead-letter transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	if err := tx.QueryRow(`SELECT attempts FROM jobs WHERE seq = ?`, job.seq).Scan(&attempts); err != nil {
		attempts = job.Attempts
	}
	if _, err := tx.Exec(`DELETE FROM jobs WHERE seq = ?`, job.seq); err != nil {
		return fmt.Errorf("removing exhausted job: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO dead_letter_jobs (id, job_type, payload, retry_count, final_error, failed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, string(job.Payload), attempts, finalError, float64(s.now().UnixNano())/1e9,
	); err != nil {
		return fmt.Errorf("recording dead letter: %w", err)
	}
	return tx.Commit()
}

// DeadLetters returns the dead-letter table, newest first.
func (s *Store) DeadLetters() ([]DeadLetter, error) {
	rows, err := s.db.Query(
		`SELECT id, job_type, payload, retry_count, final_error, failed_at FROM dead_letter_jobs ORDER BY failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("reading dead letters: %w", err)
	}
	defer rows.Close()
	var letters []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var payload string
		var failedAt float64
		if err := rows.Scan(&dl.ID, &dl.Type, &payload, &dl.RetryCount, &dl.FinalError, &failedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		dl.Payload = json.RawMessage(payload)
		dl.FailedAt = time.Unix(0, int64(failedAt*1e9))
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// RetryDeadLetter moves one dead letter (or all, with an empty id) back
// into the main table with a fresh attempt count. Returns the number of
// jobs requeued.
func (s *Store) RetryDeadLetter(id string) (int, error) {
	letters, err := s.DeadLetters()
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, dl := range letters {
		if id != "" && dl.ID != id {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return requeued, fmt.Errorf("starting retry transaction: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM dead_letter_jobs WHERE id = ?`, dl.ID); err != nil {
			tx.Rollback()
			return requeued, fmt.Errorf("removing dead letter: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO jobs (id, job_type, payload, parallel, attempts, enqueued_at) VALUES (?, ?, ?, 1, 0, ?)`,
			dl.ID, dl.Type, string(dl.Payload), float64(s.now().UnixNano())/1e9,
		); err != nil {
			tx.Rollback()
			return requeued, fmt.Errorf("requeueing dead letter: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return requeued, fmt.Errorf("committing retry: %w", err)
		}
		requeued++
	}
	return requeued, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
