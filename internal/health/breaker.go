// Package health 维护提供商熔断状态与用户层级限额
package health

import (
	"sync"
	"time"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// StateClosed 正常放行
	StateClosed CircuitState = iota
	// StateOpen 熔断中，拒绝调用
	StateOpen
	// StateHalfOpen 冷却结束，放行探测调用
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int           // 连续失败多少次后熔断
	Cooldown         time.Duration // 熔断后多久进入半开
	SuccessThreshold int           // 半开状态下连续成功多少次后恢复
}

// DefaultBreakerConfig 默认配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 1,
	}
}

// BreakerStats 熔断器统计
type BreakerStats struct {
	State           CircuitState `json:"-"`
	StateName       string       `json:"state"`
	FailureStreak   int          `json:"failure_streak"`
	TotalSuccesses  int64        `json:"total_successes"`
	TotalFailures   int64        `json:"total_failures"`
	LastFailureAt   *time.Time   `json:"last_failure_at,omitempty"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// CircuitBreaker 单个提供商的熔断器
type CircuitBreaker struct {
	config BreakerConfig
	now    func() time.Time

	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalSuccesses int64
	totalFailures  int64

	onStateChange func(to CircuitState)

	mu sync.Mutex
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config:          config,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// State 返回当前状态，冷却期满时自动转为半开
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	return cb.state
}

// IsOpen 是否拒绝调用
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// RecordSuccess 记录一次成功
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.refreshLocked()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	case StateOpen:
		// 熔断期间的迟到结果不改变状态
	}
}

// RecordFailure 记录一次失败
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.refreshLocked()
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// 半开探测失败，重新熔断
		cb.transitionTo(StateOpen)
	case StateOpen:
		cb.failureCount++
	}
}

// Reset 手动恢复为关闭状态
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
}

// Stats 返回统计快照
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()

	st := BreakerStats{
		State:           cb.state,
		StateName:       cb.state.String(),
		FailureStreak:   cb.failureCount,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		LastStateChange: cb.lastStateChange,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		st.LastFailureAt = &t
	}
	return st
}

// refreshLocked 冷却期满时由 open 转为 half-open，调用方需持有锁
func (cb *CircuitBreaker) refreshLocked() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.transitionTo(StateHalfOpen)
	}
}

// transitionTo 切换状态，调用方需持有锁
func (cb *CircuitBreaker) transitionTo(to CircuitState) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.successCount = 0
	if to == StateClosed {
		cb.failureCount = 0
	}
	if cb.onStateChange != nil {
		cb.onStateChange(to)
	}
}
