package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "llm.toml"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10, cfg.Retry.DelaySeconds)
	assert.Equal(t, 600, cfg.Retry.CooldownSeconds)
	assert.Equal(t, 180, cfg.Timeout.ReadSeconds)
	assert.Equal(t, 1000, cfg.Queue.MaxItems)
	assert.Equal(t, "http://localhost:11434", cfg.Local.Endpoint)
	assert.NotEmpty(t, cfg.Local.FallbackModels)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.toml")
	body := `
[cloud]
api_key = "sk-from-file"
model = "gpt-oss:20b"

[retry]
max_attempts = 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", cfg.Cloud.APIKey)
	assert.Equal(t, "gpt-oss:20b", cfg.Cloud.Model)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Retry.DelaySeconds)
	assert.Equal(t, 180, cfg.Timeout.ReadSeconds)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.toml")
	body := `
[cloud]
api_key = "sk-from-file"
endpoint = "https://file.example.com"

[local]
endpoint = "http://file-local:11434"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv(EnvAPIKey, "sk-from-env")
	t.Setenv(EnvCloudEndpoint, "https://env.example.com")
	t.Setenv(EnvLocalEndpoint, "http://env-local:11434")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Cloud.APIKey)
	assert.Equal(t, "https://env.example.com", cfg.Cloud.Endpoint)
	assert.Equal(t, "http://env-local:11434", cfg.Local.Endpoint)
}

func TestSaveLoadFixedPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.toml")
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvCloudEndpoint, "")
	t.Setenv(EnvLocalEndpoint, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Cloud.APIKey = "sk-roundtrip"

	require.NoError(t, Save(path, cfg))
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestRerankingSectionParsedButInert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.toml")
	body := `
[reranking]
enabled = true
model = "bge-reranker"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Reranking.Enabled)
	assert.Equal(t, "bge-reranker", cfg.Reranking.Model)
}
