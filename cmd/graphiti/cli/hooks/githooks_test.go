package hooks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoWithHooksDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git", "hooks"), 0o755))
	return dir
}

func readHook(t *testing.T, repoDir, name string) string {
	t.Helper()
	data, err := os.ReadFile(hookPath(repoDir, name))
	require.NoError(t, err)
	return string(data)
}

func TestInstallCreatesHook(t *testing.T) {
	dir := repoWithHooksDir(t)
	require.NoError(t, Install(dir, "post-commit"))

	content := readHook(t, dir, "post-commit")
	assert.True(t, strings.HasPrefix(content, "#!/bin/sh"))
	assert.Contains(t, content, MarkerStart)
	assert.Contains(t, content, MarkerEnd)
	assert.Contains(t, content, "pending_commits")

	info, err := os.Stat(hookPath(dir, "post-commit"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.True(t, IsInstalled(dir, "post-commit"))
}

func TestInstallIdempotent(t *testing.T) {
	dir := repoWithHooksDir(t)
	require.NoError(t, Install(dir, "pre-commit"))
	require.NoError(t, Install(dir, "pre-commit"))
	require.NoError(t, Install(dir, "pre-commit"))

	content := readHook(t, dir, "pre-commit")
	assert.Equal(t, 1, strings.Count(content, MarkerStart), "N installs leave one marker")
}

func TestInstallAppendsToUnrelatedHook(t *testing.T) {
	dir := repoWithHooksDir(t)
	existing := "#!/bin/sh\necho user hook\n"
	require.NoError(t, os.WriteFile(hookPath(dir, "post-merge"), []byte(existing), 0o755))

	require.NoError(t, Install(dir, "post-merge"))
	content := readHook(t, dir, "post-merge")
	assert.Contains(t, content, "echo user hook")
	assert.Contains(t, content, MarkerStart)
	assert.True(t, strings.Index(content, "echo user hook") < strings.Index(content, MarkerStart))
}

func TestUninstallRestoresPreInstallContent(t *testing.T) {
	dir := repoWithHooksDir(t)
	existing := "#!/bin/sh\necho user hook\n"
	require.NoError(t, os.WriteFile(hookPath(dir, "post-commit"), []byte(existing), 0o755))
	require.NoError(t, Install(dir, "post-commit"))
	require.NoError(t, Uninstall(dir, "post-commit"))

	content := readHook(t, dir, "post-commit")
	assert.Equal(t, existing, content)
	assert.False(t, IsInstalled(dir, "post-commit"))
}

func TestUninstallDeletesFileWhenOnlyShebangRemains(t *testing.T) {
	dir := repoWithHooksDir(t)
	require.NoError(t, Install(dir, "post-checkout"))
	require.NoError(t, Uninstall(dir, "post-checkout"))

	_, err := os.Stat(hookPath(dir, "post-checkout"))
	assert.True(t, os.IsNotExist(err))
}

func TestUninstallMissingHookIsNoop(t *testing.T) {
	dir := repoWithHooksDir(t)
	assert.NoError(t, Uninstall(dir, "post-rewrite"))
}

func TestUpgradeReplacesLegacyBlock(t *testing.T) {
	dir := repoWithHooksDir(t)
	legacy := "#!/bin/sh\n\n" + MarkerStart + "\n# auto_heal journal capture\nlegacy-command\n" + MarkerEnd + "\n"
	require.NoError(t, os.WriteFile(hookPath(dir, "post-commit"), []byte(legacy), 0o755))

	require.NoError(t, Upgrade(dir, "post-commit"))
	content := readHook(t, dir, "post-commit")
	assert.NotContains(t, content, "legacy-command")
	assert.Contains(t, content, "pending_commits")
	assert.Equal(t, 1, strings.Count(content, MarkerStart))
}

func TestUpgradeLeavesCurrentBlockAlone(t *testing.T) {
	dir := repoWithHooksDir(t)
	require.NoError(t, Install(dir, "post-commit"))
	before := readHook(t, dir, "post-commit")

	require.NoError(t, Upgrade(dir, "post-commit"))
	assert.Equal(t, before, readHook(t, dir, "post-commit"))
}

func TestStripBlocks(t *testing.T) {
	content := "#!/bin/sh\necho before\n\n" + MarkerStart + "\nblock body\n" + MarkerEnd + "\n\necho after\n"
	out := StripBlocks(content)
	assert.NotContains(t, out, "block body")
	assert.NotContains(t, out, MarkerStart)
	assert.Contains(t, out, "echo before")
	assert.Contains(t, out, "echo after")
}

func TestInstallUnknownHook(t *testing.T) {
	assert.Error(t, Install(t.TempDir(), "commit-msg"))
}

func TestTemplatesCoverAllHooks(t *testing.T) {
	for _, name := range HookNames {
		template, ok := hookTemplates[name]
		require.True(t, ok, name)
		assert.Contains(t, template, MarkerStart, name)
		assert.Contains(t, template, MarkerEnd, name)
	}
	// post-commit queues short hashes, matching the pending-file format
	// the capture pipeline and the index cursor store.
	assert.Contains(t, hookTemplates["post-commit"], "git rev-parse --short HEAD")
	// post-checkout only reacts to branch checkouts.
	assert.Contains(t, hookTemplates["post-checkout"], `"$3" != "1"`)
	// pre-commit honors the bypass.
	assert.Contains(t, hookTemplates["pre-commit"], "GRAPHITI_SKIP")
}
