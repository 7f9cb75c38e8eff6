package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"taskrouter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuiltinCatalog(t *testing.T) {
	c := NewBuiltinCatalog()

	ids := []string{}
	for _, spec := range c.List() {
		ids = append(ids, spec.TaskID)
		assert.NoError(t, Validate(spec))
	}
	assert.Equal(t, []string{"cover_letter", "job_match", "resume_extract", "summarize"}, ids)

	spec, ok := c.GetSpec("resume_extract")
	require.True(t, ok)
	assert.True(t, spec.RequiresJSON)
	assert.Equal(t, 86400, spec.CacheTTL())

	_, ok = c.GetSpec("unknown")
	assert.False(t, ok)
}

func TestLoadFileOverridesAndAdds(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasks.yaml", `
tasks:
  summarize:
    requires_json: false
    preferred_quality_default: standard
    cache_ttl_seconds: 0
    system_prompt: "Summarize briefly."
  skills_tagging:
    description: Tag skills
    requires_json: true
    preferred_quality_default: low
    provider_hints: [qwen, deepseek]
    max_tokens_hint: 300
    json_schema:
      type: object
      required: [tags]
      properties:
        tags:
          type: array
`)

	c := NewBuiltinCatalog()
	n, err := c.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	summarize, ok := c.GetSpec("summarize")
	require.True(t, ok)
	assert.Equal(t, models.QualityStandard, summarize.PreferredQualityDefault)
	assert.Equal(t, 0, summarize.CacheTTL())

	tagging, ok := c.GetSpec("skills_tagging")
	require.True(t, ok)
	assert.Equal(t, "skills_tagging", tagging.TaskID)
	assert.Equal(t, []models.Provider{models.ProviderQwen, models.ProviderDeepSeek}, tagging.ProviderHints)
	assert.Equal(t, 300, *tagging.MaxTokensHint)
	assert.Equal(t, []any{"tags"}, tagging.JSONSchema["required"])
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad quality":  "tasks:\n  a:\n    preferred_quality_default: ultra\n",
		"bad provider": "tasks:\n  a:\n    provider_hints: [mistral]\n",
		"negative ttl": "tasks:\n  a:\n    cache_ttl_seconds: -5\n",
		"id mismatch":  "tasks:\n  a:\n    task_id: b\n",
		"bad yaml":     "tasks: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewBuiltinCatalog()
			before := len(c.List())
			_, err := c.LoadFile(writeFile(t, t.TempDir(), "tasks.yaml", content))
			assert.Error(t, err)
			assert.Len(t, c.List(), before, "无效文件不应部分生效")
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "tasks:\n  one:\n    requires_json: false\n")
	writeFile(t, dir, "b.yaml", "tasks:\n  two:\n    requires_json: false\n")
	writeFile(t, dir, "ignored.txt", "not yaml")

	c := NewCatalog()
	n, err := c.LoadDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	spec, ok := c.GetSpec("two")
	require.True(t, ok)
	assert.Equal(t, models.QualityStandard, spec.PreferredQualityDefault, "默认质量补全为 standard")
}

func TestRegister(t *testing.T) {
	c := NewCatalog()
	assert.Error(t, c.Register(&models.TaskSpec{}))
	require.NoError(t, c.Register(&models.TaskSpec{TaskID: "x", PreferredQualityDefault: models.QualityHigh}))
	_, ok := c.GetSpec("x")
	assert.True(t, ok)
}
