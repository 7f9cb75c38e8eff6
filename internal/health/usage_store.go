package health

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"taskrouter/internal/models"

	"github.com/redis/go-redis/v9"
)

// UsageStore 用户月度用量存储
// models.QuotaService 即数据库实现
type UsageStore interface {
	GetUsage(ctx context.Context, userID, period string) (*models.UsageCounter, error)
	Increment(ctx context.Context, userID, period string, quality models.Quality, cost float64) error
}

var (
	_ UsageStore = (*MemoryUsageStore)(nil)
	_ UsageStore = (*RedisUsageStore)(nil)
	_ UsageStore = (*models.QuotaService)(nil)
)

// ============================================================================
// 内存实现
// ============================================================================

// MemoryUsageStore 进程内用量存储
type MemoryUsageStore struct {
	mu       sync.Mutex
	counters map[string]*models.UsageCounter
}

// NewMemoryUsageStore 创建内存用量存储
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{counters: make(map[string]*models.UsageCounter)}
}

func (s *MemoryUsageStore) GetUsage(ctx context.Context, userID, period string) (*models.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[userID+"|"+period]; ok {
		cp := *c
		return &cp, nil
	}
	return &models.UsageCounter{UserID: userID, Period: period}, nil
}

func (s *MemoryUsageStore) Increment(ctx context.Context, userID, period string, quality models.Quality, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "|" + period
	c, ok := s.counters[key]
	if !ok {
		c = &models.UsageCounter{UserID: userID, Period: period}
		s.counters[key] = c
	}
	c.Runs++
	if quality == models.QualityHigh {
		c.HighRuns++
	}
	c.TotalCost += cost
	return nil
}

// ============================================================================
// Redis 实现
// ============================================================================

const (
	usageFieldRuns     = "runs"
	usageFieldHighRuns = "high_runs"
	usageFieldCost     = "cost"
)

// RedisUsageStore 基于 Redis Hash 的用量存储，键在周期结束后自动过期
type RedisUsageStore struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration // 周期结束后额外保留时长
}

// NewRedisUsageStore 创建 Redis 用量存储
func NewRedisUsageStore(client redis.UniversalClient, keyPrefix string) *RedisUsageStore {
	if keyPrefix == "" {
		keyPrefix = "taskrouter:usage"
	}
	return &RedisUsageStore{
		client:    client,
		keyPrefix: keyPrefix,
		retention: 7 * 24 * time.Hour,
	}
}

func (s *RedisUsageStore) key(userID, period string) string {
	return fmt.Sprintf("%s:%s:%s", s.keyPrefix, period, userID)
}

func (s *RedisUsageStore) GetUsage(ctx context.Context, userID, period string) (*models.UsageCounter, error) {
	vals, err := s.client.HGetAll(ctx, s.key(userID, period)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取 Redis 用量失败: %w", err)
	}

	counter := &models.UsageCounter{UserID: userID, Period: period}
	if v, ok := vals[usageFieldRuns]; ok {
		counter.Runs, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals[usageFieldHighRuns]; ok {
		counter.HighRuns, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals[usageFieldCost]; ok {
		counter.TotalCost, _ = strconv.ParseFloat(v, 64)
	}
	return counter, nil
}

func (s *RedisUsageStore) Increment(ctx context.Context, userID, period string, quality models.Quality, cost float64) error {
	key := s.key(userID, period)
	expireAt, err := periodEnd(period)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, usageFieldRuns, 1)
	if quality == models.QualityHigh {
		pipe.HIncrBy(ctx, key, usageFieldHighRuns, 1)
	}
	if cost > 0 {
		pipe.HIncrByFloat(ctx, key, usageFieldCost, cost)
	}
	pipe.ExpireAt(ctx, key, expireAt.Add(s.retention))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入 Redis 用量失败: %w", err)
	}
	return nil
}

// periodEnd 解析 YYYY-MM 周期，返回下一周期开始时间
func periodEnd(period string) (time.Time, error) {
	start, err := time.Parse("2006-01", period)
	if err != nil {
		return time.Time{}, fmt.Errorf("无效的用量周期 %q: %w", period, err)
	}
	return models.NextPeriodStart(start), nil
}
