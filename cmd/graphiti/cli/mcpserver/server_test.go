package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerDefaultsTokenBudget(t *testing.T) {
	s := NewServer(Deps{RepoDir: t.TempDir()})
	assert.Equal(t, DefaultTokenBudget, s.deps.TokenBudget)
}

func TestJsonResult(t *testing.T) {
	result, out, err := jsonResult(map[string]string{"status": "ok"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"status": "ok"}`, string(out.Data))
}

func TestErrorResultIsToolError(t *testing.T) {
	result, _, err := errorResult(assert.AnError)
	require.NoError(t, err, "tool errors surface in the result, not the protocol")
	assert.True(t, result.IsError)
}
