// Package llm routes chat, generate, and embed requests to a cloud
// endpoint with retry and quota tracking, failing over to a local
// endpoint, and enqueueing requests that both endpoints rejected.
//
// The endpoints speak the Ollama HTTP API. Cloud is usable when an API
// key is configured and no 429 cooldown is active; embeddings route to
// local unconditionally.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/config"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
)

// Operation names, used for queue records and dispatch.
const (
	OpChat     = "chat"
	OpGenerate = "generate"
	OpEmbed    = "embed"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tune a single Chat or Generate call.
type ChatOptions struct {
	// Model overrides the configured cloud model.
	Model string
	// LocalModel pins the local fallback to a specific model. When set
	// and not listed by the local endpoint, the local attempt fails
	// immediately.
	LocalModel string
	// Format is a JSON schema for structured output. Local requests
	// pass it to the endpoint's grammar-constrained generation and strip
	// the redundant "respond in this JSON format" prompt suffix.
	Format json.RawMessage
}

// ChatParams is the queue-persisted form of a chat request.
type ChatParams struct {
	Messages []Message       `json:"messages"`
	Model    string          `json:"model,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
}

// GenerateParams is the queue-persisted form of a generate request.
type GenerateParams struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// EmbedParams is the queue-persisted form of an embed request.
type EmbedParams struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

// Client is the LLM transport. It is stateless per call except for the
// persisted cooldown/quota state and the failed-request queue.
type Client struct {
	cfg   *config.Config
	state *State
	queue *Queue

	httpCloud *http.Client
	httpLocal *http.Client

	// now is swappable for tests.
	now func() time.Time
}

// NewClient builds a transport from config, persisted state, and the
// failed-request queue. queue may be nil, in which case total failures
// are returned without enqueueing (used by the queue drain itself).
func NewClient(cfg *config.Config, state *State, queue *Queue) *Client {
	return &Client{
		cfg:   cfg,
		state: state,
		queue: queue,
		httpCloud: &http.Client{
			Timeout: time.Duration(cfg.Timeout.ReadSeconds) * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: time.Duration(cfg.Timeout.ConnectCloudSeconds) * time.Second}).DialContext,
			},
		},
		httpLocal: &http.Client{
			Timeout: time.Duration(cfg.Timeout.ReadSeconds) * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: time.Duration(cfg.Timeout.ConnectLocalSeconds) * time.Second}).DialContext,
			},
		},
		now: time.Now,
	}
}

// Chat sends a chat request, cloud first, local on failure.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	params := ChatParams{Messages: messages, Model: opts.Model, Format: opts.Format}
	return c.route(ctx, OpChat, params, func(endpoint string, client *http.Client, model string, local bool) (string, error) {
		msgs := messages
		if local && len(opts.Format) > 0 {
			msgs = stripSchemaSuffixFromMessages(messages)
		}
		body := map[string]any{"model": model, "messages": msgs, "stream": false}
		if local && len(opts.Format) > 0 {
			body["format"] = opts.Format
		}
		var resp struct {
			Message Message `json:"message"`
		}
		if err := c.post(ctx, client, endpoint, "/api/chat", body, &resp); err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}, opts)
}

// Generate sends a bare-prompt completion request.
func (c *Client) Generate(ctx context.Context, prompt string, opts ChatOptions) (string, error) {
	params := GenerateParams{Prompt: prompt, Model: opts.Model}
	return c.route(ctx, OpGenerate, params, func(endpoint string, client *http.Client, model string, local bool) (string, error) {
		body := map[string]any{"model": model, "prompt": prompt, "stream": false}
		var resp struct {
			Response string `json:"response"`
		}
		if err := c.post(ctx, client, endpoint, "/api/generate", body, &resp); err != nil {
			return "", err
		}
		return resp.Response, nil
	}, opts)
}

// Embed returns the embedding vector for input. Embeddings route to the
// local endpoint unconditionally.
func (c *Client) Embed(ctx context.Context, input string) ([]float64, error) {
	model := c.cfg.Embeddings.Model
	vec, err := c.embedLocal(ctx, input, model)
	if err == nil {
		return vec, nil
	}
	id := c.enqueueFailed(OpEmbed, EmbedParams{Input: input, Model: model}, err)
	return nil, &UnavailableError{QueueID: id}
}

func (c *Client) embedLocal(ctx context.Context, input, model string) ([]float64, error) {
	if _, err := c.requireLocalModel(ctx, model); err != nil {
		return nil, err
	}
	body := map[string]any{"model": model, "input": input}
	var resp struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := c.post(ctx, c.httpLocal, c.cfg.Local.Endpoint, "/api/embed", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("empty embedding response")
	}
	return resp.Embeddings[0], nil
}

// attempt performs one request against one endpoint.
type attempt func(endpoint string, client *http.Client, model string, local bool) (string, error)

// route implements the cloud-then-local state machine shared by Chat and
// Generate.
func (c *Client) route(ctx context.Context, op string, params any, try attempt, opts ChatOptions) (string, error) {
	var cloudErr error
	if c.cloudUsable(ctx) {
		model := opts.Model
		if model == "" {
			model = c.cfg.Cloud.Model
		}
		out, err := c.tryCloudWithRetry(ctx, try, model)
		if err == nil {
			return out, nil
		}
		cloudErr = err

		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusTooManyRequests {
			until := c.now().Add(time.Duration(c.cfg.Retry.CooldownSeconds) * time.Second)
			c.state.SetCooldown(until)
			c.logFailover(ctx, "cloud", "local", "rate_limited", se.status)
		} else {
			// Non-429 failures leave the cooldown untouched; the next
			// request tries cloud again.
			c.logFailover(ctx, "cloud", "local", "cloud_error", statusOf(err))
		}
	} else {
		c.logFailover(ctx, "cloud", "local", c.cloudSkipReason(ctx), 0)
	}

	model, err := c.pickLocalModel(ctx, opts.LocalModel)
	if err == nil {
		out, localErr := try(c.cfg.Local.Endpoint, c.httpLocal, model, true)
		if localErr == nil {
			return out, nil
		}
		err = localErr
	}

	if cloudErr != nil {
		err = fmt.Errorf("cloud: %w; local: %v", cloudErr, err)
	}
	id := c.enqueueFailed(op, params, err)
	return "", &UnavailableError{QueueID: id}
}

func (c *Client) tryCloudWithRetry(ctx context.Context, try attempt, model string) (string, error) {
	exceeded := c.state.CountCloudRequest(c.now(), c.cfg.Quota.DailyRequestLimit)
	if exceeded {
		logging.Warn(ctx, "cloud quota exceeded, using local",
			slog.Int("daily_limit", c.cfg.Quota.DailyRequestLimit))
		return "", errors.New("daily cloud quota exceeded")
	}

	delay := time.Duration(c.cfg.Retry.DelaySeconds) * time.Second
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(c.cfg.Retry.MaxAttempts-1))

	return backoff.RetryNotifyWithData(func() (string, error) {
		out, err := try(c.cfg.Cloud.Endpoint, c.httpCloud, model, false)
		if err == nil {
			return out, nil
		}
		var se *statusError
		if errors.As(err, &se) && !se.retriable() {
			// 4xx, including 429, is not retried within a request.
			return "", backoff.Permanent(err)
		}
		return "", err
	}, backoff.WithContext(bo, ctx), func(err error, _ time.Duration) {
		logging.Debug(ctx, "retrying cloud request", slog.String("error", err.Error()))
	})
}

// cloudUsable applies rule: API key configured and not in cooldown.
func (c *Client) cloudUsable(ctx context.Context) bool {
	return c.cfg.Cloud.APIKey != "" && !c.state.InCooldown(c.now())
}

func (c *Client) cloudSkipReason(ctx context.Context) string {
	if c.cfg.Cloud.APIKey == "" {
		return "no_api_key"
	}
	if c.state.InCooldown(c.now()) {
		return "cooldown"
	}
	return "unusable"
}

func (c *Client) logFailover(ctx context.Context, from, to, reason string, code int) {
	attrs := []any{
		slog.String("event", "llm_failover"),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason),
	}
	if code != 0 {
		attrs = append(attrs, slog.Int("error_code", code))
	}
	logging.Info(ctx, "llm failover", attrs...)
}

func (c *Client) enqueueFailed(op string, params any, cause error) string {
	if c.queue == nil {
		return ""
	}
	id, err := c.queue.Enqueue(op, params, cause.Error())
	if err != nil {
		logging.Error(context.Background(), "failed to enqueue llm request",
			slog.String("operation", op), slog.String("error", err.Error()))
		return ""
	}
	return id
}

// requireLocalModel verifies a specific model is listed locally.
func (c *Client) requireLocalModel(ctx context.Context, model string) (string, error) {
	listed, err := c.listLocalModels(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range listed {
		if m == model || strings.TrimSuffix(m, ":latest") == model {
			return m, nil
		}
	}
	return "", &LocalModelMissingError{Model: model}
}

// pickLocalModel returns the local model to use: the pinned model when
// requested, else the largest available model from the fallback chain.
func (c *Client) pickLocalModel(ctx context.Context, pinned string) (string, error) {
	if pinned != "" {
		return c.requireLocalModel(ctx, pinned)
	}
	listed, err := c.listLocalModels(ctx)
	if err != nil {
		return "", err
	}
	available := make(map[string]bool, len(listed))
	for _, m := range listed {
		available[m] = true
		available[strings.TrimSuffix(m, ":latest")] = true
	}

	best := ""
	bestSize := -1
	for _, candidate := range c.cfg.Local.FallbackModels {
		if !available[candidate] {
			continue
		}
		// Ties go to the earlier entry in the chain.
		if size := modelSize(candidate); size > bestSize {
			best = candidate
			bestSize = size
		}
	}
	if best == "" {
		return "", fmt.Errorf("no fallback model available locally (chain: %s)",
			strings.Join(c.cfg.Local.FallbackModels, ", "))
	}
	return best, nil
}

func (c *Client) listLocalModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Local.Endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("building tags request: %w", err)
	}
	resp, err := c.httpLocal.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing local models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding tags response: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// modelSizePattern extracts the parameter-count suffix: the integer N in
// a trailing "Nb", case-insensitive.
var modelSizePattern = regexp.MustCompile(`(?i)(\d+)\s*b$`)

// modelSize returns the parameter count a model name advertises, or 0.
func modelSize(name string) int {
	m := modelSizePattern.FindStringSubmatch(strings.TrimSuffix(name, ":latest"))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// post issues one JSON POST and decodes the response into out.
func (c *Client) post(ctx context.Context, client *http.Client, endpoint, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if client == c.httpCloud && c.cfg.Cloud.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Cloud.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

// schemaSuffixMarker starts the prompt block that duplicates the schema
// already passed via the format parameter.
const schemaSuffixMarker = "Respond with a JSON object in the following format:"

// StripSchemaSuffix removes the trailing schema-instruction block from a
// prompt. Constrained sampling makes it redundant, and shorter prompts
// speed up local models.
func StripSchemaSuffix(prompt string) string {
	idx := strings.LastIndex(prompt, schemaSuffixMarker)
	if idx < 0 {
		return prompt
	}
	return strings.TrimRight(prompt[:idx], " \n\t")
}

// stripSchemaSuffixFromMessages strips the schema suffix from the last
// message carrying it, leaving earlier messages untouched.
func stripSchemaSuffixFromMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := len(out) - 1; i >= 0; i-- {
		if strings.Contains(out[i].Content, schemaSuffixMarker) {
			out[i].Content = StripSchemaSuffix(out[i].Content)
			break
		}
	}
	return out
}
