// Package cache 提供任务结果缓存功能
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskrouter/internal/metrics"
)

const cacheTypeResult = "task_result"

// Config 缓存配置
type Config struct {
	MaxEntries      int           // 最大条目数，<=0 表示不限制
	CleanupInterval time.Duration // 过期清理间隔，<=0 表示不启动清理协程
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      10000,
		CleanupInterval: time.Minute,
	}
}

// EntryMeta 缓存条目元数据
type EntryMeta struct {
	Task    string `json:"task"`
	Tier    string `json:"tier"`
	Quality string `json:"quality"`
}

// Entry 缓存条目
type Entry struct {
	Key       string
	Value     []byte
	Meta      EntryMeta
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  int64
}

// Stats 缓存统计
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// MemoryStore 进程内结果缓存，生命周期与进程一致
type MemoryStore struct {
	entries map[string]*Entry
	config  *Config
	mu      sync.Mutex
	now     func() time.Time

	// 统计
	hits      int64
	misses    int64
	evictions int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryStore 创建内存缓存
func NewMemoryStore(config *Config) *MemoryStore {
	if config == nil {
		config = DefaultConfig()
	}
	s := &MemoryStore{
		entries: make(map[string]*Entry),
		config:  config,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go s.cleanupLoop(config.CleanupInterval)
	}
	return s
}

// Get 获取缓存，过期条目视为未命中并被移除
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && s.now().Before(entry.ExpiresAt) {
		entry.HitCount++
		s.hits++
		metrics.CacheHitsTotal.WithLabelValues(cacheTypeResult).Inc()
		return entry.Value, true
	}
	if ok {
		s.removeLocked(key, "expired")
	}

	s.misses++
	metrics.CacheMissesTotal.WithLabelValues(cacheTypeResult).Inc()
	return nil, false
}

// Set 写入缓存，ttl<=0 时忽略
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, meta EntryMeta, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.entries[key]; !exists && s.config.MaxEntries > 0 && len(s.entries) >= s.config.MaxEntries {
		s.evictLocked(now)
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	s.entries[key] = &Entry{
		Key:       key,
		Value:     buf,
		Meta:      meta,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	metrics.CacheEntries.WithLabelValues(cacheTypeResult).Set(float64(len(s.entries)))
}

// Delete 删除缓存
func (s *MemoryStore) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		metrics.CacheEntries.WithLabelValues(cacheTypeResult).Set(float64(len(s.entries)))
	}
}

// Cleanup 清理过期条目，返回清理数量
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			s.removeLocked(key, "expired")
			removed++
		}
	}
	return removed
}

// Stats 获取统计信息
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Entries:   len(s.entries),
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	return st
}

// Close 停止清理协程
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// evictLocked 容量已满时，优先移除已过期条目，否则移除最早过期的条目
func (s *MemoryStore) evictLocked(now time.Time) {
	var victim string
	var earliest time.Time
	for key, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			s.removeLocked(key, "expired")
			return
		}
		if victim == "" || entry.ExpiresAt.Before(earliest) {
			victim = key
			earliest = entry.ExpiresAt
		}
	}
	if victim != "" {
		s.removeLocked(victim, "capacity")
	}
}

func (s *MemoryStore) removeLocked(key, cause string) {
	delete(s.entries, key)
	s.evictions++
	metrics.CacheEvictionsTotal.WithLabelValues(cacheTypeResult, cause).Inc()
	metrics.CacheEntries.WithLabelValues(cacheTypeResult).Set(float64(len(s.entries)))
}

// BuildKey 生成缓存键：sha256(task|json(input)|tier|quality|schemaVersion)
// encoding/json 对 map 键排序，相同值得到相同的键。
func BuildKey(task string, input any, tier, quality, schemaVersion string) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("序列化缓存输入失败: %w", err)
	}

	var b strings.Builder
	b.WriteString(task)
	b.WriteByte('|')
	b.Write(payload)
	b.WriteByte('|')
	b.WriteString(tier)
	b.WriteByte('|')
	b.WriteString(quality)
	b.WriteByte('|')
	b.WriteString(schemaVersion)

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:]), nil
}

// SchemaFingerprint 请求自带 schema 的短指纹，未声明版本时并入缓存键
func SchemaFingerprint(schema map[string]any) (string, error) {
	if len(schema) == 0 {
		return "", nil
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("序列化 schema 失败: %w", err)
	}
	hash := sha256.Sum256(payload)
	return "adhoc:" + hex.EncodeToString(hash[:8]), nil
}
