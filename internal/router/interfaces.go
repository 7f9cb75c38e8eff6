package router

import (
	"context"
	"time"

	"taskrouter/internal/cache"
	"taskrouter/internal/models"
)

// InvokeRequest 提供商调用请求
type InvokeRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	JSONMode     bool
	Strictness   int
}

// InvokeResult 提供商调用结果
type InvokeResult struct {
	Success      bool
	Content      string
	Cost         *float64 // 提供商直接给出的成本
	InputTokens  int
	OutputTokens int
	ErrorMessage string
}

// ProviderExecutor 提供商执行器
// 普通失败通过 Success=false 或 error 表达，panic 按传输失败处理。
type ProviderExecutor interface {
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error)
}

// ExecutorFunc 函数适配器
type ExecutorFunc func(ctx context.Context, req *InvokeRequest) (*InvokeResult, error)

func (f ExecutorFunc) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	return f(ctx, req)
}

// ExecutorRegistry 提供商到执行器的注册表
type ExecutorRegistry map[models.Provider]ProviderExecutor

// HealthTracker 健康追踪：层级限额与熔断
type HealthTracker interface {
	CheckTierCap(ctx context.Context, userID string, tier models.UserTier, quality models.Quality) models.CapDecision
	IsCircuitOpen(provider models.Provider) bool
	RecordResult(provider models.Provider, success bool)
}

// TaskCatalog 任务规格目录
type TaskCatalog interface {
	GetSpec(task string) (*models.TaskSpec, bool)
}

// CacheStore 结果缓存，读取失败视为未命中
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, meta cache.EntryMeta, ttl time.Duration)
}

// InvocationRecord 遥测记录
type InvocationRecord struct {
	TraceID      string          `json:"traceId"`
	UserID       string          `json:"userId,omitempty"`
	Task         string          `json:"task"`
	Tier         models.UserTier `json:"tier"`
	Provider     models.Provider `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Quality      models.Quality  `json:"quality,omitempty"`
	Reason       string          `json:"reason"`
	Success      bool            `json:"success"`
	CacheHit     bool            `json:"cacheHit"`
	InputChars   int             `json:"inputChars"`
	OutputChars  int             `json:"outputChars"`
	InputTokens  int             `json:"inputTokens"`
	OutputTokens int             `json:"outputTokens"`
	Attempts     int             `json:"attempts"`
	LatencyMs    int64           `json:"latencyMs"`
	CostEstimate float64         `json:"costEstimate"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Errors       []AttemptError  `json:"errors,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// TelemetrySink 遥测接收端，失败不影响调用结果
type TelemetrySink interface {
	LogInvocation(ctx context.Context, record *InvocationRecord)
}

// NopSink 丢弃全部记录
type NopSink struct{}

func (NopSink) LogInvocation(context.Context, *InvocationRecord) {}
