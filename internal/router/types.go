// Package router 实现任务路由与降级编排：候选选择、重试、输出规整、缓存与遥测
package router

import (
	"fmt"
	"strings"

	"taskrouter/internal/models"
)

// 结果原因码
const (
	ReasonOK                = "ok"
	ReasonQualityClamped    = "quality_clamped_to_tier"
	ReasonUnknownTask       = "unknown_task"
	ReasonTierCap           = "tier_cap"
	ReasonProviderError     = "provider_error"
	ReasonCircuitOpen       = "circuit_open"
	ReasonJSONParseFailure  = "json_parse_failure"
	ReasonFallbackExhausted = "fallback_exhausted"
)

// 错误轨迹附加码
const (
	CodeExecutorUnavailable = "executor_unavailable"
	CodeCanceled            = "canceled"
	CodePromptBuild         = "prompt_build_failure"
)

// 错误轨迹阶段
const (
	PhaseCircuit   = "circuit"
	PhaseDispatch  = "dispatch"
	PhaseInvoke    = "invoke"
	PhaseNormalize = "normalize"
)

// RunInput 任务运行请求
type RunInput struct {
	Task          string          `json:"task"`
	Input         any             `json:"input"`
	UserID        string          `json:"userId,omitempty"`
	Tier          models.UserTier `json:"tier"`
	Quality       *models.Quality `json:"quality,omitempty"`
	JSONSchema    map[string]any  `json:"jsonSchema,omitempty"`
	SchemaVersion string          `json:"schemaVersion,omitempty"`
	TraceID       string          `json:"traceId,omitempty"`
}

// RunResult 任务运行结果，失败同样以结果返回
type RunResult struct {
	OK           bool            `json:"ok"`
	Output       any             `json:"output,omitempty"`
	Raw          string          `json:"raw,omitempty"`
	Provider     models.Provider `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Quality      models.Quality  `json:"quality,omitempty"`
	Reason       string          `json:"reason"`
	Message      string          `json:"message,omitempty"`
	LatencyMs    int64           `json:"latencyMs"`
	CostEstimate float64         `json:"costEstimate"`
	CacheHit     bool            `json:"cacheHit"`
	TraceID      string          `json:"traceId,omitempty"`
	Errors       []AttemptError  `json:"errors,omitempty"`
}

// AttemptError 单次尝试的失败记录
type AttemptError struct {
	Provider models.Provider `json:"provider"`
	Model    string          `json:"model"`
	Phase    string          `json:"phase"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	Attempt  int             `json:"attempt"`
}

func (e AttemptError) String() string {
	return fmt.Sprintf("%s/%s#%d %s:%s %s", e.Provider, e.Model, e.Attempt, e.Phase, e.Code, e.Message)
}

// JoinTrail 将错误轨迹拼接为单行文本
func JoinTrail(trail []AttemptError) string {
	parts := make([]string, len(trail))
	for i, e := range trail {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// HasCode 错误轨迹中是否包含指定错误码
func HasCode(trail []AttemptError, code string) bool {
	for _, e := range trail {
		if e.Code == code {
			return true
		}
	}
	return false
}
