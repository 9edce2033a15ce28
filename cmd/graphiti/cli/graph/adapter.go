package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/llm"
)

// LLM is the text-generation interface the episode builders consume:
// free text, or a structured object coerced against a JSON schema.
type LLM interface {
	Respond(ctx context.Context, messages []llm.Message) (string, error)
	RespondStructured(ctx context.Context, messages []llm.Message, schema json.RawMessage) (json.RawMessage, error)
}

// Embedder produces embedding vectors.
type Embedder interface {
	Create(ctx context.Context, text string) ([]float64, error)
	CreateBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// SchemaError reports a structured response that could not be coerced to
// the schema. Raw carries the model's text so callers can fall back to
// treating it as free-form output.
type SchemaError struct {
	Raw    string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("structured output did not match schema: %s", e.Reason)
}

// LLMAdapter implements LLM over the transport.
type LLMAdapter struct {
	client *llm.Client
}

// NewLLMAdapter wraps the transport in the episode builders' interface.
func NewLLMAdapter(client *llm.Client) *LLMAdapter {
	return &LLMAdapter{client: client}
}

func (a *LLMAdapter) Respond(ctx context.Context, messages []llm.Message) (string, error) {
	return a.client.Chat(ctx, messages, llm.ChatOptions{})
}

// RespondStructured requests schema-constrained output. The transport
// passes the schema to local models as a generation grammar and strips
// the redundant schema-instruction suffix from the prompt. The raw
// response is coerced: code fences are removed, and a bare JSON list is
// wrapped into the schema's single list field.
func (a *LLMAdapter) RespondStructured(ctx context.Context, messages []llm.Message, schema json.RawMessage) (json.RawMessage, error) {
	out, err := a.client.Chat(ctx, messages, llm.ChatOptions{Format: schema})
	if err != nil {
		return nil, err
	}
	return CoerceStructured(out, schema)
}

// CoerceStructured normalizes a model response into a JSON object valid
// for the schema's top-level shape.
func CoerceStructured(response string, schema json.RawMessage) (json.RawMessage, error) {
	text := StripCodeFences(response)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &SchemaError{Raw: response, Reason: "empty response"}
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, &SchemaError{Raw: response, Reason: "not valid JSON"}
	}

	switch parsed.(type) {
	case map[string]any:
		return json.RawMessage(trimmed), nil
	case []any:
		// Models sometimes return the bare list when the schema has a
		// single list-valued field.
		field, ok := singleListField(schema)
		if !ok {
			return nil, &SchemaError{Raw: response, Reason: "bare list for a non-single-list schema"}
		}
		wrapped, err := json.Marshal(map[string]json.RawMessage{field: json.RawMessage(trimmed)})
		if err != nil {
			return nil, &SchemaError{Raw: response, Reason: "wrapping bare list"}
		}
		return wrapped, nil
	default:
		return nil, &SchemaError{Raw: response, Reason: "not a JSON object"}
	}
}

// StripCodeFences removes a surrounding triple-backtick fence, with or
// without a language tag.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop the language tag on the opening fence line.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{[\"") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// singleListField returns the schema's only array-typed property, if the
// schema declares exactly one.
func singleListField(schema json.RawMessage) (string, bool) {
	var s struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return "", false
	}
	var listFields []string
	for name, prop := range s.Properties {
		if prop.Type == "array" {
			listFields = append(listFields, name)
		}
	}
	if len(listFields) != 1 {
		return "", false
	}
	return listFields[0], true
}

// EmbedAdapter implements Embedder over the transport. Embeddings route
// to the local endpoint unconditionally.
type EmbedAdapter struct {
	client *llm.Client
}

// NewEmbedAdapter wraps the transport in the embedder interface.
func NewEmbedAdapter(client *llm.Client) *EmbedAdapter {
	return &EmbedAdapter{client: client}
}

func (a *EmbedAdapter) Create(ctx context.Context, text string) ([]float64, error) {
	return a.client.Embed(ctx, text)
}

// CreateBatch embeds each text sequentially. No hidden parallelism: the
// local endpoint serializes inference anyway, and order must match input.
func (a *EmbedAdapter) CreateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))
	for _, text := range texts {
		vec, err := a.client.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}
