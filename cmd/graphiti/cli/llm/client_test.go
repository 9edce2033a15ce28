package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/config"
)

// newLocalServer fakes an Ollama local endpoint with the given models.
func newLocalServer(t *testing.T, models []string, chatResponse string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		type model struct {
			Name string `json:"name"`
		}
		list := make([]model, len(models))
		for i, m := range models {
			list[i] = model{Name: m}
		}
		json.NewEncoder(w).Encode(map[string]any{"models": list})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": chatResponse},
		})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": chatResponse})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{0.1, 0.2, 0.3}}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, cloudURL, localURL string) (*Client, *Queue) {
	t.Helper()
	dir := t.TempDir()
	queue, err := OpenQueue(filepath.Join(dir, "llm_queue"), "testhost", 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	cfg := config.Default()
	cfg.Cloud.Endpoint = cloudURL
	cfg.Cloud.APIKey = "sk-test"
	cfg.Cloud.Model = "gpt-oss:120b"
	cfg.Local.Endpoint = localURL
	cfg.Local.FallbackModels = []string{"qwen3:8b", "llama3.2:3b"}
	cfg.Embeddings.Model = "nomic-embed-text"
	cfg.Retry.DelaySeconds = 0 // no sleeping in tests
	cfg.Retry.MaxAttempts = 3

	state := LoadState(filepath.Join(dir, "llm_state.json"))
	return NewClient(cfg, state, queue), queue
}

func TestChatCloudSuccess(t *testing.T) {
	var gotAuth atomic.Value
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "cloud says hi"},
		})
	}))
	defer cloud.Close()
	local := newLocalServer(t, []string{"qwen3:8b"}, "local says hi")

	c, _ := newTestClient(t, cloud.URL, local.URL)
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cloud says hi", out)
	assert.Equal(t, "Bearer sk-test", gotAuth.Load())
}

func TestChat429CooldownFallsToLocal(t *testing.T) {
	var cloudCalls atomic.Int32
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cloudCalls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer cloud.Close()
	local := newLocalServer(t, []string{"qwen3:8b"}, "local response")

	c, _ := newTestClient(t, cloud.URL, local.URL)
	now := time.Now()
	c.now = func() time.Time { return now }

	// Request N: 429 falls through to local, once only (no retry on 4xx).
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "local response", out)
	assert.Equal(t, int32(1), cloudCalls.Load())
	assert.True(t, c.state.InCooldown(now))

	// Request N+1 inside the cooldown window: cloud is never contacted.
	now = now.Add(5 * time.Minute)
	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "q2"}}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), cloudCalls.Load())

	// After the cooldown elapses, cloud is tried again.
	now = now.Add(5*time.Minute + time.Second)
	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "q3"}}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), cloudCalls.Load())
}

func TestChatRetriesOn5xx(t *testing.T) {
	var cloudCalls atomic.Int32
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if cloudCalls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "third time lucky"},
		})
	}))
	defer cloud.Close()
	local := newLocalServer(t, []string{"qwen3:8b"}, "unused")

	c, _ := newTestClient(t, cloud.URL, local.URL)
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", out)
	assert.Equal(t, int32(3), cloudCalls.Load())
}

func TestChatNoAPIKeySkipsCloud(t *testing.T) {
	var cloudCalls atomic.Int32
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cloudCalls.Add(1)
	}))
	defer cloud.Close()
	local := newLocalServer(t, []string{"llama3.2:3b"}, "local only")

	c, _ := newTestClient(t, cloud.URL, local.URL)
	c.cfg.Cloud.APIKey = ""
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "local only", out)
	assert.Equal(t, int32(0), cloudCalls.Load())
}

func TestChatTotalFailureEnqueues(t *testing.T) {
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer cloud.Close()
	local := newLocalServer(t, nil, "") // no models available

	c, queue := newTestClient(t, cloud.URL, local.URL)
	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, ChatOptions{})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.NotEmpty(t, ue.QueueID)
	assert.Contains(t, err.Error(), "LLM unavailable. Request queued for retry. ID: "+ue.QueueID)

	n, err := queue.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmbedRoutesLocalOnly(t *testing.T) {
	var cloudCalls atomic.Int32
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cloudCalls.Add(1)
	}))
	defer cloud.Close()
	local := newLocalServer(t, []string{"nomic-embed-text:latest"}, "")

	c, _ := newTestClient(t, cloud.URL, local.URL)
	vec, err := c.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, int32(0), cloudCalls.Load())
}

func TestEmbedMissingModelEnqueues(t *testing.T) {
	local := newLocalServer(t, []string{"qwen3:8b"}, "")
	c, queue := newTestClient(t, "http://127.0.0.1:0", local.URL)

	_, err := c.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	n, _ := queue.Len()
	assert.Equal(t, 1, n)
}

func TestPickLocalModelLargest(t *testing.T) {
	local := newLocalServer(t, []string{"llama3.2:3b", "qwen3:8b"}, "")
	c, _ := newTestClient(t, "http://127.0.0.1:0", local.URL)
	c.cfg.Local.FallbackModels = []string{"llama3.2:3b", "qwen3:8b"}

	model, err := c.pickLocalModel(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "qwen3:8b", model)
}

func TestPickLocalModelPinnedMissing(t *testing.T) {
	local := newLocalServer(t, []string{"qwen3:8b"}, "")
	c, _ := newTestClient(t, "http://127.0.0.1:0", local.URL)

	_, err := c.pickLocalModel(context.Background(), "deepseek-r1:70b")
	var missing *LocalModelMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "deepseek-r1:70b", missing.Model)
}

func TestModelSize(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"qwen3:8b", 8},
		{"llama3.1:70B", 70},
		{"qwen3:8b:latest", 0},
		{"nomic-embed-text", 0},
		{"mistral:7b", 7},
		{"deepseek-r1:14b", 14},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, modelSize(tt.name), tt.name)
	}
}

func TestStripSchemaSuffix(t *testing.T) {
	prompt := "Extract the entities.\n\nRespond with a JSON object in the following format: {\"entities\": []}"
	assert.Equal(t, "Extract the entities.", StripSchemaSuffix(prompt))

	plain := "No schema here."
	assert.Equal(t, plain, StripSchemaSuffix(plain))
}

func TestStateCooldownPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm_state.json")
	s := LoadState(path)
	until := time.Now().Add(10 * time.Minute)
	s.SetCooldown(until)

	reloaded := LoadState(path)
	assert.True(t, reloaded.InCooldown(time.Now()))
	assert.False(t, reloaded.InCooldown(until.Add(time.Second)))
}
