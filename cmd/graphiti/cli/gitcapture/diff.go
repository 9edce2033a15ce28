package gitcapture

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultMaxLinesPerFile caps each file section of a fetched diff.
	DefaultMaxLinesPerFile = 500

	// gitTimeout bounds every git subprocess call.
	gitTimeout = 30 * time.Second
)

// FetchCommitDiff returns commit metadata plus a per-file truncated
// patch. Merge commits are diffed against each parent (-m); the initial
// commit takes the non-merge path.
func FetchCommitDiff(ctx context.Context, repoDir, sha string, maxLinesPerFile int) (string, error) {
	if maxLinesPerFile <= 0 {
		maxLinesPerFile = DefaultMaxLinesPerFile
	}
	meta, err := runGit(ctx, repoDir, "show", "--format=fuller", "--stat", sha)
	if err != nil {
		return "", fmt.Errorf("fetching commit metadata: %w", err)
	}

	parents, err := runGit(ctx, repoDir, "rev-parse", sha+"^@")
	if err != nil {
		return "", fmt.Errorf("resolving commit parents: %w", err)
	}
	parentCount := len(strings.Fields(parents))

	args := []string{"diff-tree", "--no-commit-id", "--patch", sha}
	if parentCount > 1 {
		args = []string{"diff-tree", "-m", "--no-commit-id", "--patch", sha}
	}
	patch, err := runGit(ctx, repoDir, args...)
	if err != nil {
		return "", fmt.Errorf("fetching commit diff: %w", err)
	}

	truncated := truncatePerFile(patch, maxLinesPerFile)
	return strings.TrimRight(meta, "\n") + "\n\n" + truncated, nil
}

// CommitSubject returns the first line of a commit's message.
func CommitSubject(ctx context.Context, repoDir, sha string) (string, error) {
	out, err := runGit(ctx, repoDir, "log", "-1", "--format=%s", sha)
	if err != nil {
		return "", fmt.Errorf("reading commit subject: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// HeadShortSHA returns the short SHA of the repository's HEAD.
func HeadShortSHA(ctx context.Context, repoDir string) (string, error) {
	out, err := runGit(ctx, repoDir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// truncatePerFile caps each "diff --git" section at maxLines lines,
// appending a single truncation marker to each capped section.
func truncatePerFile(patch string, maxLines int) string {
	if patch == "" {
		return patch
	}
	lines := strings.Split(patch, "\n")
	var out []string
	sectionLen := 0
	truncating := false
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git") {
			sectionLen = 0
			truncating = false
		}
		sectionLen++
		if sectionLen > maxLines {
			if !truncating {
				out = append(out, fmt.Sprintf("... (truncated at %d lines)", maxLines))
				truncating = true
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func runGit(ctx context.Context, repoDir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoDir
	output, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(ee.Stderr)), err)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(output), nil
}
