package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entitiesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"entities": {"type": "array", "items": {"type": "string"}}
	}
}`)

func TestCoerceStructuredObject(t *testing.T) {
	out, err := CoerceStructured(`{"entities": ["a", "b"]}`, entitiesSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entities": ["a", "b"]}`, string(out))
}

func TestCoerceStructuredWrapsBareList(t *testing.T) {
	out, err := CoerceStructured(`["a", "b"]`, entitiesSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entities": ["a", "b"]}`, string(out))
}

func TestCoerceStructuredBareListAmbiguousSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"entities": {"type": "array"},
			"relations": {"type": "array"}
		}
	}`)
	_, err := CoerceStructured(`["a"]`, schema)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
}

func TestCoerceStructuredStripsCodeFences(t *testing.T) {
	response := "```json\n{\"entities\": [\"x\"]}\n```"
	out, err := CoerceStructured(response, entitiesSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entities": ["x"]}`, string(out))
}

func TestCoerceStructuredInvalidJSON(t *testing.T) {
	_, err := CoerceStructured("sure, here you go: entities are a and b", entitiesSchema)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Raw, "entities are a and b")
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{`{"a": 1}`, `{"a": 1}`},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripCodeFences(tt.in))
	}
}
