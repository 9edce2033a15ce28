package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"slices"
	"sync"
	"time"
)

// allowlistFile is the on-disk shape of allowlist.json. Only SHA-256
// hashes are stored, never the plain secrets.
type allowlistFile struct {
	AllowedPatterns []string                      `json:"allowed_patterns"`
	Comments        map[string]string             `json:"comments"`
	Metadata        map[string]allowlistEntryMeta `json:"metadata"`
}

type allowlistEntryMeta struct {
	AddedDate string `json:"added_date"`
	AddedBy   string `json:"added_by"`
}

// Allowlist is the per-project set of secret hashes the project has
// explicitly declared safe. Adding requires a non-empty justification.
type Allowlist struct {
	path string

	mu   sync.RWMutex
	data allowlistFile
}

// LoadAllowlist reads the allowlist at path, returning an empty allowlist
// when the file does not exist.
func LoadAllowlist(path string) (*Allowlist, error) {
	a := &Allowlist{
		path: path,
		data: allowlistFile{
			Comments: map[string]string{},
			Metadata: map[string]allowlistEntryMeta{},
		},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("reading allowlist: %w", err)
	}
	if err := json.Unmarshal(raw, &a.data); err != nil {
		return nil, fmt.Errorf("parsing allowlist: %w", err)
	}
	if a.data.Comments == nil {
		a.data.Comments = map[string]string{}
	}
	if a.data.Metadata == nil {
		a.data.Metadata = map[string]allowlistEntryMeta{}
	}
	return a, nil
}

// HashSecret returns the SHA-256 hex digest used as the allowlist key.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// IsAllowed reports whether the secret's hash is allowlisted.
func (a *Allowlist) IsAllowed(secret string) bool {
	hash := HashSecret(secret)
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Contains(a.data.AllowedPatterns, hash)
}

// Add allowlists a secret with a justification and persists the file.
// The justification is required; the plain secret is never written.
func (a *Allowlist) Add(secret, justification string) error {
	if justification == "" {
		return errors.New("allowlist entries require a justification")
	}
	hash := HashSecret(secret)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.data.AllowedPatterns, hash) {
		a.data.AllowedPatterns = append(a.data.AllowedPatterns, hash)
	}
	a.data.Comments[hash] = justification
	a.data.Metadata[hash] = allowlistEntryMeta{
		AddedDate: time.Now().UTC().Format(time.RFC3339),
		AddedBy:   currentUser(),
	}
	return a.saveLocked()
}

// Remove deletes a secret's hash from the allowlist and persists the file.
func (a *Allowlist) Remove(secret string) error {
	hash := HashSecret(secret)

	a.mu.Lock()
	defer a.mu.Unlock()
	idx := slices.Index(a.data.AllowedPatterns, hash)
	if idx < 0 {
		return nil
	}
	a.data.AllowedPatterns = slices.Delete(a.data.AllowedPatterns, idx, idx+1)
	delete(a.data.Comments, hash)
	delete(a.data.Metadata, hash)
	return a.saveLocked()
}

// Len returns the number of allowlisted hashes.
func (a *Allowlist) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data.AllowedPatterns)
}

func (a *Allowlist) saveLocked() error {
	data, err := json.MarshalIndent(a.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding allowlist: %w", err)
	}
	return writeFileAtomic(a.path, append(data, '\n'), 0o600)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
