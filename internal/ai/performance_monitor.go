package ai

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 模型性能监控指标
var (
	modelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskrouter_model_request_duration_seconds",
			Help:    "模型请求耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model", "status"},
	)

	modelTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrouter_model_tokens_total",
			Help: "模型 Token 使用总量",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	modelSuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskrouter_model_success_rate",
			Help: "模型请求成功率",
		},
		[]string{"provider", "model"},
	)

	modelLatencyP99 = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskrouter_model_latency_p99_seconds",
			Help: "模型请求 P99 延迟",
		},
		[]string{"provider", "model"},
	)
)

// maxLatencySamples 每个模型保留的延迟样本数
const maxLatencySamples = 1000

// PerformanceMonitor 模型性能监控器
type PerformanceMonitor struct {
	mu     sync.RWMutex
	stats  map[string]*ModelStats // key: provider:model
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// ModelStats 单个模型的统计数据
type ModelStats struct {
	Provider string
	Model    string

	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64

	Latencies []float64 // 最近 N 次请求延迟（秒）

	TotalInputTokens  int64
	TotalOutputTokens int64

	FirstRequestTime time.Time
	LastRequestTime  time.Time
}

// ModelPerformanceSummary 模型性能摘要
type ModelPerformanceSummary struct {
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	TotalRequests     int64     `json:"totalRequests"`
	SuccessRate       float64   `json:"successRate"`
	AvgLatency        float64   `json:"avgLatencyMs"`
	P50Latency        float64   `json:"p50LatencyMs"`
	P95Latency        float64   `json:"p95LatencyMs"`
	P99Latency        float64   `json:"p99LatencyMs"`
	TotalInputTokens  int64     `json:"totalInputTokens"`
	TotalOutputTokens int64     `json:"totalOutputTokens"`
	LastRequestTime   time.Time `json:"lastRequestTime"`
}

// NewPerformanceMonitor 创建性能监控器，refresh>0 时定期刷新 Gauge 指标
func NewPerformanceMonitor(refresh time.Duration) *PerformanceMonitor {
	pm := &PerformanceMonitor{
		stats: make(map[string]*ModelStats),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	if refresh > 0 {
		pm.ticker = time.NewTicker(refresh)
		go pm.backgroundUpdate()
	}
	return pm
}

// RecordRequest 记录一次请求
func (pm *PerformanceMonitor) RecordRequest(provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	key := provider + ":" + model
	stats, ok := pm.stats[key]
	if !ok {
		stats = &ModelStats{
			Provider:         provider,
			Model:            model,
			Latencies:        make([]float64, 0, 64),
			FirstRequestTime: pm.now(),
		}
		pm.stats[key] = stats
	}

	stats.TotalRequests++
	stats.LastRequestTime = pm.now()
	stats.TotalInputTokens += int64(inputTokens)
	stats.TotalOutputTokens += int64(outputTokens)

	status := "success"
	if err != nil {
		stats.FailedRequests++
		status = "error"
	} else {
		stats.SuccessRequests++
	}

	if len(stats.Latencies) >= maxLatencySamples {
		stats.Latencies = stats.Latencies[1:]
	}
	stats.Latencies = append(stats.Latencies, duration.Seconds())

	modelRequestDuration.WithLabelValues(provider, model, status).Observe(duration.Seconds())
	modelTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	modelTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// Summaries 所有模型的性能摘要，按 key 排序
func (pm *PerformanceMonitor) Summaries() []*ModelPerformanceSummary {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	keys := make([]string, 0, len(pm.stats))
	for k := range pm.stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*ModelPerformanceSummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, summarize(pm.stats[k]))
	}
	return out
}

// Summary 单个模型的性能摘要
func (pm *PerformanceMonitor) Summary(provider, model string) *ModelPerformanceSummary {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats, ok := pm.stats[provider+":"+model]
	if !ok {
		return nil
	}
	return summarize(stats)
}

func summarize(stats *ModelStats) *ModelPerformanceSummary {
	sorted := append([]float64(nil), stats.Latencies...)
	sort.Float64s(sorted)
	return &ModelPerformanceSummary{
		Provider:          stats.Provider,
		Model:             stats.Model,
		TotalRequests:     stats.TotalRequests,
		SuccessRate:       successRate(stats),
		AvgLatency:        avgLatency(sorted),
		P50Latency:        percentile(sorted, 50) * 1000,
		P95Latency:        percentile(sorted, 95) * 1000,
		P99Latency:        percentile(sorted, 99) * 1000,
		TotalInputTokens:  stats.TotalInputTokens,
		TotalOutputTokens: stats.TotalOutputTokens,
		LastRequestTime:   stats.LastRequestTime,
	}
}

// backgroundUpdate 后台更新 Prometheus Gauge 指标
func (pm *PerformanceMonitor) backgroundUpdate() {
	for {
		select {
		case <-pm.done:
			return
		case <-pm.ticker.C:
			pm.publish()
		}
	}
}

func (pm *PerformanceMonitor) publish() {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, stats := range pm.stats {
		sorted := append([]float64(nil), stats.Latencies...)
		sort.Float64s(sorted)
		modelSuccessRate.WithLabelValues(stats.Provider, stats.Model).Set(successRate(stats))
		modelLatencyP99.WithLabelValues(stats.Provider, stats.Model).Set(percentile(sorted, 99))
	}
}

func successRate(stats *ModelStats) float64 {
	if stats.TotalRequests == 0 {
		return 0
	}
	return float64(stats.SuccessRequests) / float64(stats.TotalRequests)
}

// avgLatency 平均延迟（毫秒）
func avgLatency(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range latencies {
		sum += l
	}
	return sum / float64(len(latencies)) * 1000
}

// percentile 已排序样本的百分位数（秒）
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}

// Close 关闭监控器
func (pm *PerformanceMonitor) Close() {
	pm.once.Do(func() {
		if pm.ticker != nil {
			pm.ticker.Stop()
		}
		close(pm.done)
	})
}
