package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMCPServerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	require.NoError(t, registerMCPServer(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed map[string]map[string]struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))
	entry := parsed["mcpServers"]["graphiti"]
	assert.Equal(t, "graphiti", entry.Command)
	assert.Equal(t, []string{"mcp", "serve"}, entry.Args)
}

func TestRegisterMCPServerPreservesOtherEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	existing := `{
		"mcpServers": {"other": {"command": "other-tool", "args": ["serve"]}},
		"unrelated": {"keep": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o644))

	require.NoError(t, registerMCPServer(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "other-tool")
	assert.Contains(t, string(data), "unrelated")
	assert.Contains(t, string(data), "graphiti")
}

func TestRegisterMCPServerIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	require.NoError(t, registerMCPServer(path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, registerMCPServer(path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}
