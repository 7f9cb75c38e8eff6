package infra

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"taskrouter/internal/config"
	"taskrouter/internal/logger"
	"taskrouter/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormLogger "gorm.io/gorm/logger"
)

func TestInitDatabaseSQLite(t *testing.T) {
	db, err := InitDatabase(&config.DatabaseConfig{Driver: "sqlite", LogLevel: "silent"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDatabase() })

	assert.Same(t, db, GetDB())
	require.NoError(t, AutoMigrate(db, &models.UsageCounter{}))
	assert.True(t, db.Migrator().HasTable("usage_counters"))
	assert.NoError(t, HealthCheck())
}

func TestInitDatabaseRejectsDriver(t *testing.T) {
	_, err := InitDatabase(&config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestHealthCheckWithoutDatabase(t *testing.T) {
	require.NoError(t, CloseDatabase())
	assert.Error(t, HealthCheck())
	assert.Panics(t, func() { GetDB() })
}

func TestInitRedisStandalone(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	rdb, err := InitRedis(&config.RedisConfig{Host: mr.Host(), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseRedis() })

	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
	assert.NoError(t, HealthCheckRedis(context.Background()))
}

func TestInitRedisErrors(t *testing.T) {
	_, err := InitRedis(&config.RedisConfig{Mode: "sentinel"})
	assert.ErrorContains(t, err, "master_name")

	_, err = InitRedis(&config.RedisConfig{Mode: "cluster"})
	assert.ErrorContains(t, err, "cluster_addrs")

	_, err = InitRedis(&config.RedisConfig{Mode: "ring"})
	assert.Error(t, err)
}

func TestGormZapLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormZapLogger(zap.New(core), gormLogger.Warn)
	ctx := logger.WithTraceID(context.Background(), "trace-9")

	// 普通查询在 Warn 级别不输出
	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Equal(t, 0, logs.Len())

	l.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT slow", 1 }, nil)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "SQL 慢查询", entry.Message)
	assert.Equal(t, "trace-9", entry.ContextMap()["trace_id"])

	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gormLogger.ErrRecordNotFound)
	assert.Equal(t, 1, logs.Len(), "忽略记录不存在")

	silent := l.LogMode(gormLogger.Silent)
	silent.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT slow", 1 }, nil)
	assert.Equal(t, 1, logs.Len())
}

func TestParseGormLevel(t *testing.T) {
	assert.Equal(t, gormLogger.Silent, parseGormLevel("silent"))
	assert.Equal(t, gormLogger.Info, parseGormLevel("info"))
	assert.Equal(t, gormLogger.Warn, parseGormLevel(strings.ToUpper("bogus")))
}
