// Package paths resolves the on-disk layout Graphiti uses: the global
// ~/.graphiti directory, per-project .graphiti directories, and the scope
// rules that pick between them.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

// GraphitiDir is the directory Graphiti owns, both globally (under the
// user's home) and per project (under the repository root).
const GraphitiDir = ".graphiti"

// ProjectRootEnvVar overrides project-root discovery. Set by the MCP
// launcher, where the server's working directory is not the project.
const ProjectRootEnvVar = "GRAPHITI_PROJECT_ROOT"

// File names under a .graphiti directory.
const (
	PendingCommitsFile  = "pending_commits"
	CaptureMetadataFile = "capture_metadata.json"
	IndexStateFile      = "index-state.json"
	AllowlistFile       = "allowlist.json"
	AuditLogFile        = "audit.log"
	LLMConfigFile       = "llm.toml"
	LLMStateFile        = "llm_state.json"
	LLMQueueDir         = "llm_queue"
	JobQueueDir         = "job_queue"
	LogsDir             = "logs"
	GitIgnoreFile       = ".gitignore"
)

// Scope selects which on-disk graph and state directory an operation uses.
type Scope int

const (
	// ScopeGlobal is the user-wide graph under ~/.graphiti/global.
	ScopeGlobal Scope = iota
	// ScopeProject is the per-repository graph under <root>/.graphiti.
	ScopeProject
)

// String returns the scope name used in group IDs and JSON output.
func (s Scope) String() string {
	if s == ScopeProject {
		return "project"
	}
	return "global"
}

// GroupID returns the graph group identifier for this scope. Project scope
// derives the group from the project root's base name.
func (s Scope) GroupID(projectRoot string) string {
	if s == ScopeProject && projectRoot != "" {
		return "project_" + filepath.Base(projectRoot)
	}
	return "global"
}

// projectRootCache caches the discovered project root per working directory
// to avoid walking the filesystem on every call.
var (
	rootMu       sync.RWMutex
	rootCache    string
	rootCacheDir string
)

// FindProjectRoot walks up from startDir looking for a .git directory.
// Returns the containing directory, or "" if none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		info, err := os.Stat(filepath.Join(dir, ".git"))
		if err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ProjectRoot returns the project root for the current working directory.
// GRAPHITI_PROJECT_ROOT takes precedence over discovery. The result is
// cached per working directory.
func ProjectRoot() (string, error) {
	if override := os.Getenv(ProjectRootEnvVar); override != "" {
		return override, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}

	rootMu.RLock()
	if rootCache != "" && rootCacheDir == cwd {
		cached := rootCache
		rootMu.RUnlock()
		return cached, nil
	}
	rootMu.RUnlock()

	root := FindProjectRoot(cwd)
	if root == "" {
		return "", fmt.Errorf("not inside a git repository: %s", cwd)
	}

	rootMu.Lock()
	rootCache = root
	rootCacheDir = cwd
	rootMu.Unlock()

	return root, nil
}

// ClearProjectRootCache clears the cached project root. Used by tests that
// change directories.
func ClearProjectRootCache() {
	rootMu.Lock()
	rootCache = ""
	rootCacheDir = ""
	rootMu.Unlock()
}

// DetermineScope picks the scope for an operation. Preference operations
// are always global. Otherwise project scope is used when preferProject is
// set and a project root exists.
func DetermineScope(preferProject bool) (Scope, string) {
	if !preferProject {
		return ScopeGlobal, ""
	}
	root, err := ProjectRoot()
	if err != nil {
		return ScopeGlobal, ""
	}
	return ScopeProject, root
}

// GlobalDir returns ~/.graphiti, creating nothing.
func GlobalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, GraphitiDir), nil
}

// StateDir returns the .graphiti state directory for the scope: the global
// directory for ScopeGlobal, <projectRoot>/.graphiti for ScopeProject.
func StateDir(scope Scope, projectRoot string) (string, error) {
	if scope == ScopeProject && projectRoot != "" {
		return filepath.Join(projectRoot, GraphitiDir), nil
	}
	return GlobalDir()
}

// DatabaseDir returns the graph database directory for the scope.
func DatabaseDir(scope Scope, projectRoot string) (string, error) {
	if scope == ScopeProject && projectRoot != "" {
		return filepath.Join(projectRoot, GraphitiDir, "graph"), nil
	}
	global, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(global, "global", "graph"), nil
}

// EnsureStateDir creates the scope's .graphiti directory if missing and,
// for project scope, seeds a .gitignore that keeps transient files out of
// the repository.
func EnsureStateDir(scope Scope, projectRoot string) (string, error) {
	dir, err := StateDir(scope, projectRoot)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	if scope == ScopeProject {
		seedGitIgnore(dir)
	}
	return dir, nil
}

// seedGitIgnore writes the project .graphiti/.gitignore once. Transient
// state never belongs in the repository; allowlist.json does, so it is not
// listed.
func seedGitIgnore(dir string) {
	path := filepath.Join(dir, GitIgnoreFile)
	if _, err := os.Stat(path); err == nil {
		return
	}
	body := "graph/\nlogs/\naudit.log*\nindex-state.json\ncapture_metadata.json\npending_commits*\n"
	_ = os.WriteFile(path, []byte(body), 0o644)
}

// PendingCommitsPath returns the global pending-commits file the post-commit
// hook appends to.
func PendingCommitsPath() (string, error) {
	global, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(global, PendingCommitsFile), nil
}

// HostID returns a stable identifier for this machine, used to keep
// per-host queue and metadata files separate on shared home directories.
// Falls back to the hostname when machine IDs are unavailable.
func HostID() string {
	id, err := machineid.ProtectedID("graphiti")
	if err == nil && len(id) >= 12 {
		return id[:12]
	}
	host, err := os.Hostname()
	if err != nil {
		return "default"
	}
	return host
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory followed by a rename, creating parent directories as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
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
