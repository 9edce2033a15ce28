// Package hooks installs and removes the git hooks and AI-assistant
// hooks that feed capture. Every git hook block this package writes is
// wrapped in marker comments, so install, uninstall, and upgrade are
// idempotent and never touch user-authored hook content.
package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Marker lines delimiting graphiti-owned blocks in hook files.
const (
	MarkerStart = "# GRAPHITI_HOOK_START"
	MarkerEnd   = "# GRAPHITI_HOOK_END"
)

// legacyMarkers identify blocks written by earlier releases; Upgrade
// replaces them.
var legacyMarkers = []string{"auto_heal", "journal"}

// HookNames lists the git hooks this package manages.
var HookNames = []string{
	"pre-commit",
	"post-commit",
	"post-merge",
	"post-checkout",
	"post-rewrite",
}

// Install writes the hook's marker block into .git/hooks/<name>.
// A missing file is created from the template; an already-installed file
// is left alone; an unrelated existing hook gets the block appended.
func Install(repoDir, name string) error {
	template, ok := hookTemplates[name]
	if !ok {
		return fmt.Errorf("unknown hook %q", name)
	}
	path := hookPath(repoDir, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating hooks directory: %w", err)
		}
		content := "#!/bin/sh\n\n" + template
		if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
			return fmt.Errorf("writing hook %s: %w", name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading hook %s: %w", name, err)
	}
	content := string(data)
	if strings.Contains(content, MarkerStart) {
		return nil
	}
	combined := strings.TrimRight(content, "\n") + "\n\n" + template
	if err := os.WriteFile(path, []byte(combined), 0o755); err != nil {
		return fmt.Errorf("updating hook %s: %w", name, err)
	}
	return nil
}

// Uninstall removes the marker block. When only a shebang (or nothing)
// remains, the file is deleted; otherwise the user's content is kept.
func Uninstall(repoDir, name string) error {
	path := hookPath(repoDir, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading hook %s: %w", name, err)
	}
	remaining := StripBlocks(string(data))
	if isEffectivelyEmpty(remaining) {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing hook %s: %w", name, err)
		}
		return nil
	}
	if err := os.WriteFile(path, []byte(remaining), 0o755); err != nil {
		return fmt.Errorf("rewriting hook %s: %w", name, err)
	}
	return nil
}

// IsInstalled reports whether the hook file exists and carries a block.
func IsInstalled(repoDir, name string) bool {
	data, err := os.ReadFile(hookPath(repoDir, name))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), MarkerStart)
}

// Upgrade reinstalls a hook whose block carries legacy markers. Current
// blocks are left untouched.
func Upgrade(repoDir, name string) error {
	path := hookPath(repoDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading hook %s: %w", name, err)
	}
	content := string(data)
	if !strings.Contains(content, MarkerStart) {
		return nil
	}
	legacy := false
	for _, marker := range legacyMarkers {
		if strings.Contains(content, marker) {
			legacy = true
			break
		}
	}
	if !legacy {
		return nil
	}
	stripped := StripBlocks(content)
	if isEffectivelyEmpty(stripped) {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing legacy hook %s: %w", name, err)
		}
	} else if err := os.WriteFile(path, []byte(stripped), 0o755); err != nil {
		return fmt.Errorf("rewriting hook %s: %w", name, err)
	}
	return Install(repoDir, name)
}

// StripBlocks removes every marker block, including the marker lines,
// and collapses the blank lines around each removed block.
func StripBlocks(content string) string {
	lines := strings.Split(content, "\n")
	var out []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == MarkerStart {
			inBlock = true
			// Drop the blank line preceding the block.
			for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
				out = out[:len(out)-1]
			}
			continue
		}
		if inBlock {
			if trimmed == MarkerEnd {
				inBlock = false
			}
			continue
		}
		out = append(out, line)
	}
	result := strings.Join(out, "\n")
	result = strings.TrimRight(result, "\n")
	if result != "" {
		result += "\n"
	}
	return result
}

func isEffectivelyEmpty(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#!") {
			continue
		}
		return false
	}
	return true
}

func hookPath(repoDir, name string) string {
	return filepath.Join(repoDir, ".git", "hooks", name)
}
