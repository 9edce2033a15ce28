package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/graphiti-dev/graphiti/redact"
)

// stagedGitTimeout bounds each git call during the pre-commit scan; the
// scan sits on the user's commit path.
const stagedGitTimeout = 30 * time.Second

// ScanStaged runs the delta-only secret scan the pre-commit hook
// invokes: only text added relative to HEAD is scanned, so pre-existing
// secrets never block unrelated commits. Excluded files are skipped
// entirely.
func ScanStaged(ctx context.Context, repoDir string, sanitizer *redact.Sanitizer) ([]redact.Finding, error) {
	files, err := stagedFiles(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	dmp := diffmatchpatch.New()
	var findings []redact.Finding
	for _, file := range files {
		if sanitizer.Exclusions != nil {
			if excluded, _ := sanitizer.Exclusions.CheckExcluded(file); excluded {
				continue
			}
		}
		oldContent := gitShowQuiet(ctx, repoDir, "HEAD:"+file)
		newContent := gitShowQuiet(ctx, repoDir, ":"+file)
		if newContent == "" {
			continue
		}
		added := addedText(dmp, oldContent, newContent)
		if added == "" {
			continue
		}
		result := sanitizer.Sanitize(added, file)
		findings = append(findings, result.Findings...)
	}
	return findings, nil
}

// FormatFindings renders scan findings for the hook's stderr output.
func FormatFindings(findings []redact.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "%s: line %d: %s (%s confidence)\n",
			f.FilePath, f.Line, f.Type, f.Confidence)
	}
	return b.String()
}

func stagedFiles(ctx context.Context, repoDir string) ([]string, error) {
	out, err := runStagedGit(ctx, repoDir, "diff", "--cached", "--name-only", "--diff-filter=ACM")
	if err != nil {
		return nil, fmt.Errorf("listing staged files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// gitShowQuiet reads a blob, returning "" for paths that do not exist at
// the given revision (new files, for example).
func gitShowQuiet(ctx context.Context, repoDir, spec string) string {
	out, err := runStagedGit(ctx, repoDir, "show", spec)
	if err != nil {
		return ""
	}
	return out
}

// addedText extracts the text inserted between the two versions.
func addedText(dmp *diffmatchpatch.DiffMatchPatch, oldContent, newContent string) string {
	if oldContent == "" {
		return newContent
	}
	diffs := dmp.DiffMain(oldContent, newContent, false)
	var b strings.Builder
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffInsert {
			b.WriteString(d.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func runStagedGit(ctx context.Context, repoDir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, stagedGitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
