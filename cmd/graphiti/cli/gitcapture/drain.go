// Package gitcapture feeds committed work into the capture pipeline:
// draining the pending-commits file the post-commit hook appends to,
// fetching commit diffs, and filtering commits for relevance.
package gitcapture

import (
	"fmt"
	"os"
	"strings"
)

// Drain atomically consumes the pending-commits file and returns its
// hashes. A missing file returns no hashes and no error. The rename is
// the synchronization primitive against the appending hook: a hash
// appended after the rename lands in a fresh base file for the next
// drain.
func Drain(path string) ([]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	processing := path + ".processing"
	// A leftover .processing file from a crashed drain is folded in
	// before renaming, so no hash is lost.
	if leftover, err := os.ReadFile(processing); err == nil && len(leftover) > 0 {
		current, _ := os.ReadFile(path)
		merged := append(leftover, current...)
		if err := os.WriteFile(path, merged, 0o644); err != nil {
			return nil, fmt.Errorf("merging leftover pending file: %w", err)
		}
		_ = os.Remove(processing)
	}
	if err := os.Rename(path, processing); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming pending file: %w", err)
	}
	data, err := os.ReadFile(processing)
	if err != nil {
		return nil, fmt.Errorf("reading pending file: %w", err)
	}
	if err := os.Remove(processing); err != nil {
		return nil, fmt.Errorf("removing processed pending file: %w", err)
	}

	var hashes []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			hashes = append(hashes, line)
		}
	}
	return hashes, nil
}

// Append adds a commit hash to the pending file. Used by tests and the
// capture command's dry-run path; the installed hook appends directly.
func Append(path, hash string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening pending file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(hash + "\n"); err != nil {
		return fmt.Errorf("appending to pending file: %w", err)
	}
	return nil
}
