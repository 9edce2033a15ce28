package indexer

import (
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
)

// botEmailPatterns match automated committers whose commits carry no
// design signal.
var botEmailPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[bot\]@`),
	regexp.MustCompile(`@dependabot\.com$`),
	regexp.MustCompile(`^noreply@github\.com$`),
	regexp.MustCompile(`^\d+\+.*\[bot\]@`),
}

// skipMessagePrefixes are mechanical commit subjects.
var skipMessagePrefixes = []string{
	"chore(deps):",
	"chore(deps-dev):",
	"build(deps):",
	"chore(release):",
}

// versionBumpFiles mark commits that only touch release plumbing.
var versionBumpFiles = []string{
	"package.json",
	"pyproject.toml",
	"__version__",
	"CHANGELOG",
	"setup.py",
	"setup.cfg",
}

// tinyChangeThreshold is the insertions+deletions count at or below
// which a commit is considered noise.
const tinyChangeThreshold = 3

// ShouldSkipCommit applies the quality gate, cheapest checks first. Any
// stats failure fails open: the commit is processed.
func ShouldSkipCommit(commit *object.Commit) (bool, string) {
	email := strings.ToLower(commit.Author.Email)
	for _, pattern := range botEmailPatterns {
		if pattern.MatchString(email) {
			return true, "bot author"
		}
	}

	message := strings.ToLower(commit.Message)
	for _, prefix := range skipMessagePrefixes {
		if strings.HasPrefix(message, prefix) {
			return true, "mechanical commit: " + prefix
		}
	}

	stats, err := commit.Stats()
	if err != nil {
		return false, ""
	}

	if commit.NumParents() > 1 && len(stats) == 0 {
		return true, "empty merge"
	}

	insertions, deletions := 0, 0
	for _, fs := range stats {
		insertions += fs.Addition
		deletions += fs.Deletion
	}
	if insertions+deletions <= tinyChangeThreshold {
		return true, "tiny change"
	}

	if len(stats) > 0 && allVersionBumpFiles(stats) {
		return true, "version bump"
	}
	return false, ""
}

func allVersionBumpFiles(stats object.FileStats) bool {
	for _, fs := range stats {
		base := fs.Name
		if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
			base = base[idx+1:]
		}
		matched := false
		for _, marker := range versionBumpFiles {
			if strings.Contains(base, marker) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
