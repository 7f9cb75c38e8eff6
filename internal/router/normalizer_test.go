package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var resumeSchema = map[string]any{
	"type":     "object",
	"required": []any{"name", "skills"},
	"properties": map[string]any{
		"name":   map[string]any{"type": "string"},
		"skills": map[string]any{"type": "array"},
		"years":  map[string]any{"type": []any{"integer", "null"}},
	},
}

func TestNormalizePassthrough(t *testing.T) {
	res := Normalize("just some prose", nil, false)
	require.True(t, res.OK)
	assert.Equal(t, "just some prose", res.Output)
}

func TestNormalizeExtractsJSON(t *testing.T) {
	cases := map[string]string{
		"bare":   `{"name":"Ada","skills":["go"]}`,
		"fenced": "```json\n{\"name\":\"Ada\",\"skills\":[\"go\"]}\n```",
		"prose":  "Sure! Here is the result:\n{\"name\":\"Ada\",\"skills\":[\"go\"]}\nLet me know if you need more.",
		"braces in strings": `Result: {"name":"Ada {the} \"first\"","skills":["c}"]} trailing`,
		"leading bad brace": `note {not json} then {"name":"Ada","skills":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res := Normalize(raw, resumeSchema, true)
			require.True(t, res.OK, res.Message)
			out, ok := res.Output.(map[string]any)
			require.True(t, ok)
			assert.Contains(t, out, "name")
		})
	}
}

func TestNormalizeFailures(t *testing.T) {
	cases := map[string]string{
		"no json":          "I could not process this résumé.",
		"unterminated":     `{"name":"Ada","skills":["go"]`,
		"missing required": `{"name":"Ada"}`,
		"wrong type":       `{"name":42,"skills":["go"]}`,
		"integer check":    `{"name":"Ada","skills":[],"years":2.5}`,
		"empty":            "",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res := Normalize(raw, resumeSchema, true)
			assert.False(t, res.OK)
			assert.Equal(t, ReasonJSONParseFailure, res.Code)
			assert.NotEmpty(t, res.Message)
		})
	}
}

func TestNormalizeWithoutSchema(t *testing.T) {
	res := Normalize(`{"anything": {"nested": true}}`, nil, true)
	require.True(t, res.OK)
	out := res.Output.(map[string]any)
	assert.Equal(t, map[string]any{"nested": true}, out["anything"])
}

func TestNormalizeNullableField(t *testing.T) {
	res := Normalize(`{"name":"Ada","skills":[],"years":null}`, resumeSchema, true)
	assert.True(t, res.OK, res.Message)
}

func TestExtractJSONObjectTopLevelArrayRejected(t *testing.T) {
	_, ok := ExtractJSONObject(`[1,2,3]`)
	assert.False(t, ok)
}
