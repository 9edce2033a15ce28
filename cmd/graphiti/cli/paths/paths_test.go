package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, root, FindProjectRoot(nested))
	assert.Equal(t, root, FindProjectRoot(root))
}

func TestFindProjectRootNotFound(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", FindProjectRoot(dir))
}

func TestFindProjectRootIgnoresGitFile(t *testing.T) {
	// A .git *file* (worktree pointer) does not count; discovery walks for
	// a .git directory.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: elsewhere"), 0o644))
	assert.Equal(t, "", FindProjectRoot(dir))
}

func TestProjectRootEnvOverride(t *testing.T) {
	t.Setenv(ProjectRootEnvVar, "/some/project")
	root, err := ProjectRoot()
	require.NoError(t, err)
	assert.Equal(t, "/some/project", root)
}

func TestDetermineScope(t *testing.T) {
	scope, root := DetermineScope(false)
	assert.Equal(t, ScopeGlobal, scope)
	assert.Empty(t, root)

	projectDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, ".git"), 0o755))
	t.Setenv(ProjectRootEnvVar, projectDir)
	scope, root = DetermineScope(true)
	assert.Equal(t, ScopeProject, scope)
	assert.Equal(t, projectDir, root)
}

func TestScopeGroupID(t *testing.T) {
	assert.Equal(t, "global", ScopeGlobal.GroupID(""))
	assert.Equal(t, "project_myrepo", ScopeProject.GroupID("/home/u/src/myrepo"))
}

func TestStateDirProject(t *testing.T) {
	dir, err := StateDir(ScopeProject, "/repo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/repo", GraphitiDir), dir)
}

func TestEnsureStateDirSeedsGitIgnore(t *testing.T) {
	projectDir := t.TempDir()
	dir, err := EnsureStateDir(ScopeProject, projectDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, GitIgnoreFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "graph/")
	assert.NotContains(t, string(data), "allowlist.json")

	// Second call must not clobber user edits.
	require.NoError(t, os.WriteFile(filepath.Join(dir, GitIgnoreFile), []byte("custom\n"), 0o644))
	_, err = EnsureStateDir(ScopeProject, projectDir)
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, GitIgnoreFile))
	require.NoError(t, err)
	assert.Equal(t, "custom\n", string(data))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":1}`), 0o644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	// Overwrite leaves no temp files behind.
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":2}`), 0o644))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
