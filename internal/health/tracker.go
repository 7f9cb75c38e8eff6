package health

import (
	"context"
	"sync"

	"taskrouter/internal/metrics"
	"taskrouter/internal/models"

	"go.uber.org/zap"
)

// ProviderStatus 提供商健康状态快照
type ProviderStatus struct {
	Provider models.Provider `json:"provider"`
	BreakerStats
}

// Tracker 提供商熔断与层级限额的组合，生命周期与进程一致
type Tracker struct {
	breakers map[models.Provider]*CircuitBreaker
	config   BreakerConfig
	capCheck *TierCapChecker
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewTracker 创建健康追踪器
func NewTracker(config BreakerConfig, capCheck *TierCapChecker, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		breakers: make(map[models.Provider]*CircuitBreaker),
		config:   config,
		capCheck: capCheck,
		logger:   logger,
	}
}

// breaker 获取提供商熔断器，不存在时创建
func (t *Tracker) breaker(p models.Provider) *CircuitBreaker {
	t.mu.RLock()
	if cb, ok := t.breakers[p]; ok {
		t.mu.RUnlock()
		return cb
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[p]; ok {
		return cb
	}

	cb := NewCircuitBreaker(t.config)
	cb.onStateChange = func(to CircuitState) {
		metrics.CircuitState.WithLabelValues(string(p)).Set(float64(gaugeValue(to)))
		t.logger.Info("提供商熔断状态变化",
			zap.String("provider", string(p)),
			zap.String("state", to.String()),
		)
	}
	t.breakers[p] = cb
	return cb
}

// IsCircuitOpen 提供商是否处于熔断状态
func (t *Tracker) IsCircuitOpen(p models.Provider) bool {
	return t.breaker(p).IsOpen()
}

// RecordResult 记录一次调用结果
func (t *Tracker) RecordResult(p models.Provider, success bool) {
	cb := t.breaker(p)
	if success {
		cb.RecordSuccess()
		return
	}
	cb.RecordFailure()
}

// CheckTierCap 检查层级限额，未配置检查器时放行
func (t *Tracker) CheckTierCap(ctx context.Context, userID string, tier models.UserTier, quality models.Quality) models.CapDecision {
	if t.capCheck == nil {
		return models.CapDecision{Allowed: true}
	}
	return t.capCheck.Check(ctx, userID, tier, quality)
}

// Reset 手动恢复指定提供商
func (t *Tracker) Reset(p models.Provider) {
	t.breaker(p).Reset()
}

// Snapshot 返回全部已知提供商的状态，按固定顺序
func (t *Tracker) Snapshot() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(models.AllProviders))
	for _, p := range models.AllProviders {
		out = append(out, ProviderStatus{Provider: p, BreakerStats: t.breaker(p).Stats()})
	}
	return out
}

func gaugeValue(s CircuitState) int {
	switch s {
	case StateOpen:
		return 2
	case StateHalfOpen:
		return 1
	default:
		return 0
	}
}
