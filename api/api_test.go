package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"taskrouter/internal/cache"
	"taskrouter/internal/common"
	"taskrouter/internal/health"
	"taskrouter/internal/models"
	"taskrouter/internal/router"
	"taskrouter/internal/tasks"
	"taskrouter/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine  *gin.Engine
	tracker *health.Tracker
	usage   *health.MemoryUsageStore
	calls   int
	mu      sync.Mutex
}

// newTestEnv 真实路由器 + 假执行器
func newTestEnv(t *testing.T, invoke router.ExecutorFunc, logs usageListerFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{usage: health.NewMemoryUsageStore()}
	limits := models.DefaultTierLimits()
	capCheck := health.NewTierCapChecker(limits, env.usage, nil)
	env.tracker = health.NewTracker(health.DefaultBreakerConfig(), capCheck, nil)

	counting := router.ExecutorFunc(func(ctx context.Context, req *router.InvokeRequest) (*router.InvokeResult, error) {
		env.mu.Lock()
		env.calls++
		env.mu.Unlock()
		return invoke(ctx, req)
	})
	executors := router.ExecutorRegistry{}
	for _, p := range models.AllProviders {
		executors[p] = counting
	}

	catalog := tasks.NewBuiltinCatalog()
	registry := models.NewRegistry(models.DefaultModelOptions())
	store := cache.NewMemoryStore(&cache.Config{})
	sink := telemetry.MultiSink{telemetry.NewUsageSink(env.usage, nil)}
	r := router.New(registry, catalog, executors, env.tracker, store, sink, router.Options{TierLimits: limits})

	deps := Dependencies{
		Runner:    r,
		Catalog:   catalog,
		Registry:  registry,
		Available: models.AllProviders,
		Health:    env.tracker,
		Cache:     store,
		Usage:     env.usage,
		Limits:    capCheck,
		Probes: []ReadinessProbe{
			{Name: "cache", Check: func(context.Context) error { return nil }},
		},
	}
	if logs != nil {
		deps.Invocations = logs
	}
	env.engine = SetupRouter(deps)
	return env
}

type usageListerFunc func(ctx context.Context, f telemetry.LogFilter) ([]*telemetry.InvocationLog, error)

func (f usageListerFunc) ListRecent(ctx context.Context, filter telemetry.LogFilter) ([]*telemetry.InvocationLog, error) {
	return f(ctx, filter)
}

func resumeReply(context.Context, *router.InvokeRequest) (*router.InvokeResult, error) {
	return &router.InvokeResult{
		Success: true,
		Content: "```json\n{\"name\":\"Ada\",\"skills\":[\"math\"],\"experience\":[]}\n```",
	}, nil
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, common.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var resp common.APIResponse
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func dataMap(t *testing.T, resp common.APIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data 应为对象: %#v", resp.Data)
	return m
}

func TestRunTaskSuccessAndCache(t *testing.T) {
	env := newTestEnv(t, resumeReply, nil)
	body := gin.H{"input": gin.H{"text": "Ada Lovelace, mathematician"}, "userId": "u1", "tier": "pro"}

	w, resp := env.do(t, http.MethodPost, "/api/tasks/resume_extract/run", body, map[string]string{HeaderTraceID: "trace-abc"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "trace-abc", w.Header().Get(HeaderTraceID))

	data := dataMap(t, resp)
	assert.Equal(t, true, data["ok"])
	assert.Equal(t, router.ReasonOK, data["reason"])
	assert.Equal(t, "trace-abc", data["traceId"])
	assert.Equal(t, "deepseek", data["provider"], "提示集中最便宜的候选")
	assert.Equal(t, "Ada", data["output"].(map[string]any)["name"])

	w, resp = env.do(t, http.MethodPost, "/api/tasks/resume_extract/run", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataMap(t, resp)["cacheHit"])
	assert.Equal(t, 1, env.calls)

	counter, err := env.usage.GetUsage(context.Background(), "u1", models.UsagePeriod(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Runs, "缓存命中不计用量")
}

func TestRunTaskErrors(t *testing.T) {
	env := newTestEnv(t, func(context.Context, *router.InvokeRequest) (*router.InvokeResult, error) {
		return nil, errors.New("upstream down")
	}, nil)

	w, resp := env.do(t, http.MethodPost, "/api/tasks/nope/run", gin.H{"input": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, common.CodeTaskNotFound, resp.Code)
	assert.Equal(t, router.ReasonUnknownTask, dataMap(t, resp)["reason"])

	w, _ = env.do(t, http.MethodPost, "/api/tasks/summarize/run", gin.H{"input": "x", "tier": "platinum"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/tasks/summarize/run", gin.H{"input": "x", "quality": "ultra"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/tasks/summarize/run", gin.H{"tier": "pro"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "缺少 input")

	w, resp = env.do(t, http.MethodPost, "/api/tasks/summarize/run", gin.H{"input": gin.H{"text": "hello"}}, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, common.CodeFallbackExhausted, resp.Code)
	data := dataMap(t, resp)
	assert.Equal(t, router.ReasonFallbackExhausted, data["reason"])
	assert.NotEmpty(t, data["errors"])
}

func TestRunTaskTierCap(t *testing.T) {
	env := newTestEnv(t, resumeReply, nil)
	limit := models.DefaultTierLimits()[models.TierFree].MonthlyRuns
	period := models.UsagePeriod(time.Now())
	for i := int64(0); i < limit; i++ {
		require.NoError(t, env.usage.Increment(context.Background(), "capped", period, models.QualityLow, 0))
	}

	w, resp := env.do(t, http.MethodPost, "/api/tasks/summarize/run", gin.H{"input": gin.H{"text": "x"}, "userId": "capped"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, router.ReasonTierCap, dataMap(t, resp)["reason"])
	assert.Equal(t, 0, env.calls)
}

func TestListTasksAndModels(t *testing.T) {
	env := newTestEnv(t, resumeReply, nil)

	w, resp := env.do(t, http.MethodGet, "/api/tasks", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, resp)
	assert.EqualValues(t, 4, data["total"])
	assert.NotContains(t, w.Body.String(), "systemPrompt")

	w, resp = env.do(t, http.MethodGet, "/api/tasks/job_match", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "job_match", dataMap(t, resp)["taskId"])

	w, _ = env.do(t, http.MethodGet, "/api/tasks/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = env.do(t, http.MethodGet, "/api/models", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, len(models.DefaultModelOptions()), dataMap(t, resp)["total"])

	w, resp = env.do(t, http.MethodGet, "/api/models/performance", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, dataMap(t, resp)["total"])
}

func TestProviderHealthAndReset(t *testing.T) {
	env := newTestEnv(t, resumeReply, nil)
	for i := 0; i < health.DefaultBreakerConfig().FailureThreshold; i++ {
		env.tracker.RecordResult(models.ProviderQwen, false)
	}
	require.True(t, env.tracker.IsCircuitOpen(models.ProviderQwen))

	w, resp := env.do(t, http.MethodGet, "/api/health/providers", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, len(models.AllProviders), dataMap(t, resp)["total"])
	assert.Contains(t, w.Body.String(), `"state":"open"`)

	w, _ = env.do(t, http.MethodPost, "/api/health/providers/qwen/reset", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.tracker.IsCircuitOpen(models.ProviderQwen))

	w, _ = env.do(t, http.MethodPost, "/api/health/providers/mistral/reset", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageAndInvocations(t *testing.T) {
	var gotFilter telemetry.LogFilter
	env := newTestEnv(t, resumeReply, func(_ context.Context, f telemetry.LogFilter) ([]*telemetry.InvocationLog, error) {
		gotFilter = f
		return []*telemetry.InvocationLog{{ID: "1", Task: "summarize"}}, nil
	})
	require.NoError(t, env.usage.Increment(context.Background(), "u9", "2026-03", models.QualityHigh, 0.5))

	w, resp := env.do(t, http.MethodGet, "/api/usage/u9?period=2026-03&tier=pro", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, resp)
	assert.EqualValues(t, 1, data["highRuns"])
	assert.Equal(t, "pro", data["tier"])
	assert.Equal(t, "high", data["limits"].(map[string]any)["maxQuality"])

	w, _ = env.do(t, http.MethodGet, "/api/usage/u9?period=March", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = env.do(t, http.MethodGet, "/api/invocations?user=u9&reason=ok&limit=5", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, dataMap(t, resp)["total"])
	assert.Equal(t, telemetry.LogFilter{UserID: "u9", Reason: "ok", Limit: 5}, gotFilter)
}

func TestInvocationsDisabled(t *testing.T) {
	env := newTestEnv(t, resumeReply, nil)
	w, _ := env.do(t, http.MethodGet, "/api/invocations", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthReadyMetrics(t *testing.T) {
	env := newTestEnv(t, resumeReply, nil)

	w, _ := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))

	w, _ = env.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taskrouter_")
}

func TestSwaggerDocServed(t *testing.T) {
	env := newTestEnv(t, resumeReply, nil)

	w, _ := env.do(t, http.MethodGet, "/swagger/doc.json", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/tasks/{task}/run")
	assert.Contains(t, w.Body.String(), "tasks.runTaskRequest")
}

func TestReadinessFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/ready", ReadinessCheck([]ReadinessProbe{
		{Name: "database", Check: func(context.Context) error { return errors.New("down") }},
	}))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "down")
}

func TestRecoveryAndCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID(), Recovery(), CORS())
	engine.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/boom", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
