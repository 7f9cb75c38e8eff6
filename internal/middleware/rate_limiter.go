package middleware

import (
	"sync"
	"time"

	"taskrouter/internal/common"
	"taskrouter/internal/metrics"

	"github.com/gin-gonic/gin"
)

// HeaderUserID 调用方用户标识，缺省时按客户端 IP 限流
const HeaderUserID = "X-User-ID"

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerSecond int           // 每秒补充令牌数
	RequestsPerMinute int           // 每分钟请求上限，0 表示不限
	BurstSize         int           // 突发容量
	CleanupInterval   time.Duration // 清理间隔
	IdleTTL           time.Duration // 闲置多久后回收客户端状态
}

// DefaultRateLimiterConfig 默认配置
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 10,
		RequestsPerMinute: 300,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
		IdleTTL:           10 * time.Minute,
	}
}

type clientState struct {
	tokens      float64
	lastUpdate  time.Time
	requests    int64 // 分钟内请求数
	minuteStart time.Time
}

// RateLimiterStats 限流器统计
type RateLimiterStats struct {
	ActiveClients     int   `json:"active_clients"`
	Rejected          int64 `json:"rejected"`
	RequestsPerSecond int   `json:"requests_per_second"`
	RequestsPerMinute int   `json:"requests_per_minute"`
	BurstSize         int   `json:"burst_size"`
}

// RateLimiter 按键的令牌桶限流器
type RateLimiter struct {
	config   *RateLimiterConfig
	clients  map[string]*clientState
	rejected int64
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewRateLimiter 创建限流器并启动清理协程
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config == nil {
		config = def
	}
	if config.BurstSize <= 0 {
		config.BurstSize = def.BurstSize
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}

	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*clientState),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.cleanup()
	return rl
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &clientState{
			tokens:      float64(rl.config.BurstSize - 1),
			lastUpdate:  now,
			requests:    1,
			minuteStart: now,
		}
		return true
	}

	// 令牌桶：按流逝时间补充
	elapsed := now.Sub(state.lastUpdate).Seconds()
	state.tokens += elapsed * float64(rl.config.RequestsPerSecond)
	if state.tokens > float64(rl.config.BurstSize) {
		state.tokens = float64(rl.config.BurstSize)
	}
	state.lastUpdate = now

	if now.Sub(state.minuteStart) >= time.Minute {
		state.requests = 0
		state.minuteStart = now
	}

	if rl.config.RequestsPerMinute > 0 && state.requests >= int64(rl.config.RequestsPerMinute) {
		rl.rejected++
		return false
	}
	if state.tokens < 1 {
		rl.rejected++
		return false
	}

	state.tokens--
	state.requests++
	return true
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, state := range rl.clients {
		if now.Sub(state.lastUpdate) > rl.config.IdleTTL {
			delete(rl.clients, key)
		}
	}
}

// Stop 停止清理协程，可重复调用
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Stats 获取统计
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateLimiterStats{
		ActiveClients:     len(rl.clients),
		Rejected:          rl.rejected,
		RequestsPerSecond: rl.config.RequestsPerSecond,
		RequestsPerMinute: rl.config.RequestsPerMinute,
		BurstSize:         rl.config.BurstSize,
	}
}

// RateLimitMiddleware 限流中间件，键为 X-User-ID，缺省时为客户端 IP
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderUserID)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if !limiter.Allow(key) {
			metrics.RateLimitedTotal.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", "1")
			common.AbortWithError(c, common.CodeTooManyRequests, "")
			return
		}
		c.Next()
	}
}
