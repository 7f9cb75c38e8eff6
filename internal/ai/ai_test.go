package ai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskrouter/internal/models"
	"taskrouter/internal/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	last *ChatCompletionRequest
	resp *ChatCompletionResponse
	err  error
}

func (c *fakeClient) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	c.last = req
	return c.resp, c.err
}

func (c *fakeClient) Name() string { return "fake" }
func (c *fakeClient) Close() error { return nil }

func TestClientExecutorInvoke(t *testing.T) {
	client := &fakeClient{resp: &ChatCompletionResponse{Content: `{"a":1}`, Usage: Usage{PromptTokens: 30, CompletionTokens: 7}}}
	monitor := NewPerformanceMonitor(0)
	defer monitor.Close()
	exec := NewClientExecutor(models.ProviderQwen, client, monitor, nil)

	res, err := exec.Invoke(context.Background(), &router.InvokeRequest{
		Model:        "qwen-plus",
		SystemPrompt: "sys",
		UserPrompt:   "user",
		MaxTokens:    512,
		JSONMode:     true,
		Strictness:   router.StrictnessStrict,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, `{"a":1}`, res.Content)
	assert.Equal(t, 30, res.InputTokens)
	assert.Equal(t, 7, res.OutputTokens)
	assert.Nil(t, res.Cost)

	require.NotNil(t, client.last)
	assert.Equal(t, "qwen-plus", client.last.Model)
	assert.Equal(t, []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "user"}}, client.last.Messages)
	assert.Equal(t, 512, client.last.MaxTokens)
	assert.True(t, client.last.JSONMode)
	assert.Equal(t, 0.0, client.last.Temperature)

	sum := monitor.Summary("qwen", "qwen-plus")
	require.NotNil(t, sum)
	assert.Equal(t, int64(1), sum.TotalRequests)
	assert.Equal(t, 1.0, sum.SuccessRate)
	assert.Equal(t, int64(30), sum.TotalInputTokens)
}

func TestClientExecutorError(t *testing.T) {
	client := &fakeClient{err: &ClientError{Type: ErrorTypeRateLimit, Message: "slow down"}}
	monitor := NewPerformanceMonitor(0)
	defer monitor.Close()
	exec := NewClientExecutor(models.ProviderOpenAI, client, monitor, nil)

	res, err := exec.Invoke(context.Background(), &router.InvokeRequest{Model: "gpt-4o-mini", UserPrompt: "x"})
	assert.Nil(t, res)
	var clientErr *ClientError
	require.True(t, errors.As(err, &clientErr))
	assert.Len(t, client.last.Messages, 1, "空 system prompt 不发送")
	assert.Equal(t, 0.2, client.last.Temperature)

	sum := monitor.Summary("openai", "gpt-4o-mini")
	require.NotNil(t, sum)
	assert.Equal(t, 0.0, sum.SuccessRate)
}

func TestPerformanceMonitorSummaries(t *testing.T) {
	pm := NewPerformanceMonitor(0)
	defer pm.Close()

	for i := 1; i <= 100; i++ {
		pm.RecordRequest("deepseek", "deepseek-chat", time.Duration(i)*time.Millisecond, 1, 1, nil)
	}
	pm.RecordRequest("anthropic", "claude", time.Second, 0, 0, errors.New("x"))

	all := pm.Summaries()
	require.Len(t, all, 2)
	assert.Equal(t, "anthropic", all[0].Provider)

	ds := pm.Summary("deepseek", "deepseek-chat")
	require.NotNil(t, ds)
	assert.InDelta(t, 50.5, ds.AvgLatency, 0.01)
	assert.InDelta(t, 50, ds.P50Latency, 0.01)
	assert.InDelta(t, 99, ds.P99Latency, 0.01)
	assert.Nil(t, pm.Summary("nope", "nope"))
}

func TestClientFactory(t *testing.T) {
	for _, env := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "DEEPSEEK_API_KEY", "QWEN_API_KEY"} {
		t.Setenv(env, "")
	}
	t.Setenv("MY_QWEN_KEY", "qwen-secret")

	f := NewClientFactory(map[models.Provider]ProviderSettings{
		models.ProviderDeepSeek: {APIKey: "ds-key", BaseURL: "http://localhost:1"},
		models.ProviderQwen:     {APIKeyEnv: "MY_QWEN_KEY"},
	}, nil)
	defer f.Close()

	assert.ElementsMatch(t, []string{"openai", "anthropic", "deepseek", "qwen"}, f.SupportedProviders())

	_, err := f.CreateClient("mistral", &ClientConfig{APIKey: "k"})
	assert.Error(t, err)

	_, err = f.GetClient(models.ProviderOpenAI)
	assert.Error(t, err, "未配置 Key 时不可用")

	c1, err := f.GetClient(models.ProviderDeepSeek)
	require.NoError(t, err)
	c2, err := f.GetClient(models.ProviderDeepSeek)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, "deepseek", c1.Name())

	executors := f.BuildExecutors(nil)
	assert.Len(t, executors, 2)
	assert.Contains(t, executors, models.ProviderDeepSeek)
	assert.Contains(t, executors, models.ProviderQwen)
}

func TestFileCredentialProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DEEPSEEK_API_KEY"), []byte("ds-from-file\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "EMPTY_KEY"), []byte("  \n"), 0o600))
	t.Setenv("OPENAI_API_KEY", "oa-from-env")
	t.Setenv("EMPTY_KEY", "empty-from-env")

	p := NewFileCredentialProvider(dir)

	v, err := p.Get("DEEPSEEK_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "ds-from-file", v)

	v, err = p.Get("OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "oa-from-env", v, "文件缺失时回退到环境变量")

	v, err = p.Get("EMPTY_KEY")
	require.NoError(t, err)
	assert.Equal(t, "empty-from-env", v)

	for _, bad := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, err := p.Get(bad)
		assert.Error(t, err, bad)
	}
}

func TestRegisteredCredentialProviderResolvesKeys(t *testing.T) {
	for _, env := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "DEEPSEEK_API_KEY", "QWEN_API_KEY"} {
		t.Setenv(env, "")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ANTHROPIC_API_KEY"), []byte("an-secret"), 0o600))

	RegisterCredentialProvider(NewFileCredentialProvider(dir))
	t.Cleanup(func() { RegisterCredentialProvider(nil) })

	assert.Equal(t, "an-secret", resolveAPIKey(ProviderSettings{}, "ANTHROPIC_API_KEY"))
	assert.Equal(t, "explicit", resolveAPIKey(ProviderSettings{APIKey: "explicit"}, "ANTHROPIC_API_KEY"))
	assert.Empty(t, resolveAPIKey(ProviderSettings{}, "OPENAI_API_KEY"))

	f := NewClientFactory(nil, nil)
	defer f.Close()
	executors := f.BuildExecutors(nil)
	assert.Len(t, executors, 1)
	assert.Contains(t, executors, models.ProviderAnthropic)
}
