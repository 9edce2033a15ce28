package redact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExcludedDefaults(t *testing.T) {
	e := DefaultExclusions()

	excluded := []string{
		"/repo/.env",
		"/repo/.env.production",
		"/repo/staging.env",
		"/repo/config/secrets.yaml",
		"/repo/aws_credentials",
		"/repo/password.txt",
		"/repo/access_token.json",
		"/repo/server.key",
		"/repo/cert.pem",
		"/repo/keystore.jks",
		"/repo/node_modules/left-pad/index.js",
		"/repo/.git/config",
		"/repo/venv/lib/python3.12/site.py",
		"/repo/__pycache__/mod.pyc",
		"/repo/tests/conftest.py",
		"/repo/test/helper.rb",
		"/repo/pkg/test_parser.py",
		"/repo/pkg/parser_test.go",
		"/repo/fixtures/sample.json",
		"/repo/dist/bundle.js",
		"/repo/build/out.o",
	}
	for _, path := range excluded {
		got, pattern := e.CheckExcluded(path)
		assert.True(t, got, "expected %s excluded", path)
		assert.NotEmpty(t, pattern, "pattern for %s", path)
	}

	included := []string{
		"/repo/main.go",
		"/repo/internal/server/handler.go",
		"/repo/README.md",
		"/repo/cmd/app/testdata_loader.go",
	}
	for _, path := range included {
		got, _ := e.CheckExcluded(path)
		assert.False(t, got, "expected %s included", path)
	}
}

func TestCheckExcludedSymlinkToExcluded(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "prod.env")
	require.NoError(t, os.WriteFile(target, []byte("SECRET=1"), 0o600))
	link := filepath.Join(dir, "settings.txt")
	require.NoError(t, os.Symlink(target, link))

	e := DefaultExclusions()
	got, pattern := e.CheckExcluded(link)
	assert.True(t, got)
	assert.Equal(t, "*.env", pattern)
}

func TestCheckExcludedMissingFileUsesLexicalPath(t *testing.T) {
	// Diff paths usually do not exist on disk; matching falls back to the
	// cleaned path instead of excluding everything.
	e := DefaultExclusions()
	got, _ := e.CheckExcluded("/nonexistent/repo/src/app.go")
	assert.False(t, got)

	got, pattern := e.CheckExcluded("/nonexistent/repo/.env")
	assert.True(t, got)
	assert.Equal(t, ".env", pattern)
}

func TestCheckExcludedCustomPatterns(t *testing.T) {
	e := NewExclusionList([]string{"*.sql", "backups/"})
	got, _ := e.CheckExcluded("/repo/dump.sql")
	assert.True(t, got)
	got, _ = e.CheckExcluded("/repo/backups/2024.tar")
	assert.True(t, got)
	got, _ = e.CheckExcluded("/repo/.env")
	assert.False(t, got)
}
