package llm

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

// Queue defaults.
const (
	DefaultQueueMaxItems = 1000
	DefaultQueueTTL      = 24 * time.Hour
)

// QueueItem is one failed LLM request awaiting retry.
type QueueItem struct {
	ID            string          `json:"id"`
	Operation     string          `json:"operation"`
	Params        json.RawMessage `json:"params"`
	Timestamp     float64         `json:"timestamp"`
	OriginalError string          `json:"original_error"`
}

// Queue is the persistent FIFO of requests both endpoints rejected.
// Bounded; overflow evicts the oldest items. Entries older than the TTL
// are dropped unprocessed on drain. Internally thread-safe via sqlite.
type Queue struct {
	db       *sql.DB
	maxItems int
	ttl      time.Duration
	now      func() time.Time
}

// OpenQueue opens (or creates) the queue database in dir. One queue file
// per host keeps shared home directories from interleaving entries.
func OpenQueue(dir, hostID string, maxItems int, ttl time.Duration) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}
	dbPath := filepath.Join(dir, fmt.Sprintf("queue-%s.db", hostID))
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS llm_queue (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT NOT NULL,
			operation      TEXT NOT NULL,
			params         TEXT NOT NULL,
			timestamp      REAL NOT NULL,
			original_error TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating queue table: %w", err)
	}
	if maxItems <= 0 {
		maxItems = DefaultQueueMaxItems
	}
	if ttl <= 0 {
		ttl = DefaultQueueTTL
	}
	return &Queue{db: db, maxItems: maxItems, ttl: ttl, now: time.Now}, nil
}

// Close closes the queue database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue stores a failed request and returns its queue ID. When the
// queue is full the oldest items are evicted to make room; eviction is
// logged, never an error.
func (q *Queue) Enqueue(operation string, params any, originalError string) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding params: %w", err)
	}
	id := uuid.NewString()
	_, err = q.db.Exec(
		`INSERT INTO llm_queue (id, operation, params, timestamp, original_error) VALUES (?, ?, ?, ?, ?)`,
		id, operation, string(raw), float64(q.now().UnixNano())/1e9, originalError,
	)
	if err != nil {
		return "", fmt.Errorf("enqueueing request: %w", err)
	}
	q.evictOverflow()
	return id, nil
}

func (q *Queue) evictOverflow() {
	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM llm_queue`).Scan(&count); err != nil {
		return
	}
	if count <= q.maxItems {
		return
	}
	evict := count - q.maxItems
	_, err := q.db.Exec(
		`DELETE FROM llm_queue WHERE seq IN (SELECT seq FROM llm_queue ORDER BY seq ASC LIMIT ?)`, evict)
	if err == nil {
		logging.Warn(context.Background(), "llm queue overflow, evicted oldest items",
			slog.Int("evicted", evict), slog.Int("max_items", q.maxItems))
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() (int, error) {
	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM llm_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting queue: %w", err)
	}
	return count, nil
}

// Processor retries one queued request. A nil return acknowledges and
// removes the item; an error re-queues it at the tail.
type Processor func(operation string, params json.RawMessage) error

// DrainResult summarizes one Drain pass.
type DrainResult struct {
	Processed int `json:"processed"`
	Requeued  int `json:"requeued"`
	Expired   int `json:"expired"`
}

// Drain processes queued items in insertion order. TTL-expired items are
// dropped without processing. Items the processor fails are re-queued
// with the new error recorded; Drain makes a single pass, so a re-queued
// item is not retried until the next drain.
func (q *Queue) Drain(processor Processor) (*DrainResult, error) {
	result := &DrainResult{}
	cutoff := float64(q.now().Add(-q.ttl).UnixNano()) / 1e9

	rows, err := q.db.Query(`SELECT seq, id, operation, params, timestamp, original_error FROM llm_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	type row struct {
		seq  int64
		item QueueItem
	}
	var items []row
	for rows.Next() {
		var r row
		var params string
		if err := rows.Scan(&r.seq, &r.item.ID, &r.item.Operation, &params, &r.item.Timestamp, &r.item.OriginalError); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		r.item.Params = json.RawMessage(params)
		items = append(items, r)
	}
	rows.Close()

	for _, r := range items {
		if r.item.Timestamp < cutoff {
			_, _ = q.db.Exec(`DELETE FROM llm_queue WHERE seq = ?`, r.seq)
			result.Expired++
			continue
		}
		if err := processor(r.item.Operation, r.item.Params); err != nil {
			// Re-queue at the tail with the latest error.
			_, _ = q.db.Exec(`DELETE FROM llm_queue WHERE seq = ?`, r.seq)
			_, _ = q.db.Exec(
				`INSERT INTO llm_queue (id, operation, params, timestamp, original_error) VALUES (?, ?, ?, ?, ?)`,
				r.item.ID, r.item.Operation, string(r.item.Params), r.item.Timestamp, err.Error(),
			)
			result.Requeued++
			continue
		}
		_, _ = q.db.Exec(`DELETE FROM llm_queue WHERE seq = ?`, r.seq)
		result.Processed++
	}
	return result, nil
}
