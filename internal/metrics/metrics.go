package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskrouter_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RateLimitedTotal 被限流拒绝的请求数
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_rate_limited_total",
			Help: "被限流拒绝的请求总数",
		},
		[]string{"path"},
	)
)

// 任务路由指标
var (
	// TaskRunsTotal 任务运行总数
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_task_runs_total",
			Help: "任务运行总数",
		},
		[]string{"task", "reason", "cache_hit"},
	)

	// TaskRunDuration 任务运行耗时（秒）
	TaskRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskrouter_task_run_duration_seconds",
			Help:    "任务运行耗时分布",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"task"},
	)

	// TaskRunCost 任务成本估算（美元）
	TaskRunCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_task_cost_total",
			Help: "任务成本估算总和",
		},
		[]string{"task", "provider", "model"},
	)

	// ProviderAttemptsTotal 提供商调用尝试次数
	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_provider_attempts_total",
			Help: "提供商调用尝试总数",
		},
		[]string{"provider", "model", "outcome"}, // outcome: success, provider_error, json_parse_failure
	)

	// CircuitState 熔断器状态 0=closed 1=half_open 2=open
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskrouter_circuit_state",
			Help: "提供商熔断器状态",
		},
		[]string{"provider"},
	)
)

// 缓存指标
var (
	// CacheHitsTotal 缓存命中数
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_cache_hits_total",
			Help: "缓存命中总数",
		},
		[]string{"cache_type"},
	)

	// CacheMissesTotal 缓存未命中数
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_cache_misses_total",
			Help: "缓存未命中总数",
		},
		[]string{"cache_type"},
	)

	// CacheEntries 当前缓存条目数
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskrouter_cache_entries",
			Help: "当前缓存条目数",
		},
		[]string{"cache_type"},
	)

	// CacheEvictionsTotal 缓存淘汰数
	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_cache_evictions_total",
			Help: "缓存淘汰总数",
		},
		[]string{"cache_type", "cause"}, // cause: expired, capacity
	)
)

// 系统指标
var (
	// BuildInfo 构建信息
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskrouter_build_info",
			Help: "TaskRouter 构建信息",
		},
		[]string{"version", "go_version", "commit"},
	)
)

// RecordBuildInfo 记录构建信息
func RecordBuildInfo(version, commit string) {
	BuildInfo.WithLabelValues(version, runtime.Version(), commit).Set(1)
}
