package redact

import (
	"os"
	"path/filepath"
	"strings"
)

// defaultExcludePatterns are the file patterns never sent to an LLM.
// Trailing-slash entries are directory patterns matching any parent
// directory by name. When in doubt, skip.
var defaultExcludePatterns = []string{
	".env",
	".env.*",
	"*.env",
	"*secret*",
	"*credential*",
	"*password*",
	"*token*",
	"*.key",
	"*.pem",
	"*.p12",
	"*.pfx",
	"*.jks",
	"node_modules/",
	".git/",
	"venv/",
	".venv/",
	"__pycache__/",
	"tests/",
	"test/",
	"**/test_*.",
	"**/*_test.",
	"fixtures/",
	"mocks/",
	"dist/",
	"build/",
	"*.egg-info/",
}

// ExclusionList matches file paths against exclusion patterns.
type ExclusionList struct {
	patterns []string
}

// DefaultExclusions returns the built-in exclusion list.
func DefaultExclusions() *ExclusionList {
	return &ExclusionList{patterns: defaultExcludePatterns}
}

// NewExclusionList replaces the defaults with custom patterns.
func NewExclusionList(patterns []string) *ExclusionList {
	return &ExclusionList{patterns: patterns}
}

// CheckExcluded reports whether path is excluded from capture and which
// pattern matched. Symlinks are resolved first; a path that cannot be
// resolved for any reason other than not existing is excluded
// conservatively.
func (e *ExclusionList) CheckExcluded(path string) (bool, string) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return true, "unresolvable"
		}
		resolved = filepath.Clean(path)
	}

	base := filepath.Base(resolved)
	parts := strings.Split(filepath.ToSlash(resolved), "/")

	for _, pattern := range e.patterns {
		if dir, ok := strings.CutSuffix(pattern, "/"); ok {
			for _, part := range parts[:max(len(parts)-1, 0)] {
				if matched, _ := filepath.Match(dir, part); matched {
					return true, pattern
				}
			}
			continue
		}
		if strings.HasPrefix(pattern, "**/") {
			// Basename-anchored pattern; a trailing "." means "has an
			// extension" (test_*.py, foo_test.go, ...).
			glob := strings.TrimPrefix(pattern, "**/")
			if strings.HasSuffix(glob, ".") {
				glob += "*"
			}
			if matched, _ := filepath.Match(glob, base); matched {
				return true, pattern
			}
			continue
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true, pattern
		}
	}
	return false, ""
}
