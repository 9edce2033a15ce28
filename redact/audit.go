package redact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Audit event names.
const (
	EventSecretDetected = "secret_detected"
	EventFileExcluded   = "file_excluded"
	EventAllowlistCheck = "allowlist_check"
)

// Rotation limits for the audit log.
const (
	auditMaxSize = 10 << 20
	auditBackups = 5
)

// AuditEvent is one NDJSON line in the audit log.
type AuditEvent struct {
	Timestamp    string     `json:"ts"`
	Level        string     `json:"level"`
	Event        string     `json:"event"`
	Action       string     `json:"action"`
	SecretType   SecretType `json:"secret_type,omitempty"`
	LineNumber   int        `json:"line_number,omitempty"`
	Confidence   Confidence `json:"confidence,omitempty"`
	EntropyScore float64    `json:"entropy_score,omitempty"`
	FilePath     string     `json:"file_path,omitempty"`
	Placeholder  string     `json:"placeholder,omitempty"`
	Pattern      string     `json:"pattern,omitempty"`
}

// AuditLog is an append-only NDJSON log that rotates on size. The file is
// created lazily on first write. Losing an event to an external
// log-rotation race is acceptable; losing a secret to a remote LLM is not,
// which is why writes are best-effort and never block the caller.
type AuditLog struct {
	path string

	mu sync.Mutex
}

// NewAuditLog returns an audit log writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Path returns the audit log's file path.
func (l *AuditLog) Path() string {
	return l.path
}

// Write appends one event. Failures are swallowed: auditing must never
// block a capture.
func (l *AuditLog) Write(ev AuditEvent) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if ev.Level == "" {
		ev.Level = "INFO"
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rotateIfNeeded()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}

// rotateIfNeeded shifts audit.log -> audit.log.1 -> ... -> audit.log.5
// when the active file exceeds the size limit.
func (l *AuditLog) rotateIfNeeded() {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() < auditMaxSize {
		return
	}
	for i := auditBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.path, i)
		dst := fmt.Sprintf("%s.%d", l.path, i+1)
		_ = os.Rename(src, dst)
	}
	_ = os.Rename(l.path, l.path+".1")
}

// writeFileAtomic writes data through a temp file + rename in the target's
// directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
