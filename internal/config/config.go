package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskrouter/internal/models"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Log       LogConfig                 `mapstructure:"log"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Router    RouterConfig              `mapstructure:"router"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Health    HealthConfig              `mapstructure:"health"`
	Usage     UsageConfig               `mapstructure:"usage"`
	Tiers     map[string]TierConfig     `mapstructure:"tiers"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Telemetry TelemetryConfig           `mapstructure:"telemetry"`
	Catalog   CatalogConfig             `mapstructure:"catalog"`
	RateLimit RateLimitConfig           `mapstructure:"rate_limit"`
	Secrets   SecretsConfig             `mapstructure:"secrets"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`          // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`  // 秒
	WriteTimeout int    `mapstructure:"write_timeout"` // 秒
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Driver          string `mapstructure:"driver"` // sqlite, postgres
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
	LogLevel        string `mapstructure:"log_level"` // silent, error, warn, info
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Mode     string `mapstructure:"mode"` // standalone, sentinel, cluster
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// RouterConfig 路由编排配置
type RouterConfig struct {
	MaxAttempts    int    `mapstructure:"max_attempts"`
	RetryBackoffMs int    `mapstructure:"retry_backoff_ms"`
	Coalesce       bool   `mapstructure:"coalesce"`
	TokenEstimator string `mapstructure:"token_estimator"` // chars, tiktoken
}

// CacheConfig 结果缓存配置
type CacheConfig struct {
	MaxEntries      int           `mapstructure:"max_entries"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// HealthConfig 熔断配置
type HealthConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// UsageConfig 用量计数配置
type UsageConfig struct {
	Backend   string `mapstructure:"backend"` // memory, redis, database
	KeyPrefix string `mapstructure:"key_prefix"`
}

// TierConfig 单个层级的限额
type TierConfig struct {
	MaxQuality      string `mapstructure:"max_quality"`
	MonthlyRuns     int64  `mapstructure:"monthly_runs"`
	MonthlyHighRuns int64  `mapstructure:"monthly_high_runs"`
}

// ProviderConfig 提供商连接配置
type ProviderConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	BaseURL   string `mapstructure:"base_url"`
	Timeout   int    `mapstructure:"timeout"` // 秒
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Database bool `mapstructure:"database"` // 调用日志写入数据库
	Async    bool `mapstructure:"async"`
}

// CatalogConfig 任务目录配置
type CatalogConfig struct {
	Path string `mapstructure:"path"` // YAML 文件或目录，空表示仅内置任务
}

// SecretsConfig 密钥文件配置，常见于挂载的 Kubernetes/Docker secret 目录
type SecretsConfig struct {
	Dir string `mapstructure:"dir"` // 每个文件一个密钥，文件名即键名；空表示仅读环境变量
}

// RateLimitConfig 运行接口限流配置
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	BurstSize         int  `mapstructure:"burst_size"`
}

var globalConfig *Config

// setDefaults 默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "taskrouter.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("router.max_attempts", 3)
	v.SetDefault("router.retry_backoff_ms", 0)
	v.SetDefault("router.coalesce", false)
	v.SetDefault("router.token_estimator", "chars")

	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.cleanup_interval", time.Minute)

	v.SetDefault("health.failure_threshold", 5)
	v.SetDefault("health.success_threshold", 1)
	v.SetDefault("health.cooldown", 30*time.Second)

	v.SetDefault("usage.backend", "memory")
	v.SetDefault("usage.key_prefix", "taskrouter:usage")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.requests_per_minute", 300)
	v.SetDefault("rate_limit.burst_size", 20)
}

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）；找不到默认配置文件时使用默认值
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_ROUTER_MAX_ATTEMPTS
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	switch c.Usage.Backend {
	case "memory", "redis", "database":
	default:
		return fmt.Errorf("不支持的用量存储: %s", c.Usage.Backend)
	}
	if c.Usage.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("用量存储为 redis 时需启用 redis")
	}
	if c.Usage.Backend == "database" && !c.Database.Enabled {
		return fmt.Errorf("用量存储为 database 时需启用 database")
	}
	if c.Telemetry.Database && !c.Database.Enabled {
		return fmt.Errorf("数据库遥测需启用 database")
	}
	for name := range c.Providers {
		if !models.Provider(name).Valid() {
			return fmt.Errorf("未知提供商配置: %s", name)
		}
	}
	_, err := c.TierLimits()
	return err
}

// TierLimits 合并默认层级限额与配置覆盖
func (c *Config) TierLimits() (map[models.UserTier]models.TierLimits, error) {
	limits := models.DefaultTierLimits()
	for name, tc := range c.Tiers {
		tier := models.UserTier(name)
		if !tier.Valid() {
			return nil, fmt.Errorf("未知用户层级: %s", name)
		}
		l := limits[tier]
		if tc.MaxQuality != "" {
			q, err := models.ParseQuality(tc.MaxQuality)
			if err != nil {
				return nil, fmt.Errorf("层级 %s: %w", name, err)
			}
			l.MaxQuality = q
		}
		if tc.MonthlyRuns != 0 {
			l.MonthlyRuns = tc.MonthlyRuns
		}
		if tc.MonthlyHighRuns != 0 {
			l.MonthlyHighRuns = tc.MonthlyHighRuns
		}
		limits[tier] = l
	}
	return limits, nil
}

// RetryBackoff 重试退避基数
func (r RouterConfig) RetryBackoff() time.Duration {
	return time.Duration(r.RetryBackoffMs) * time.Millisecond
}

// GetDSN 获取 Postgres 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr Redis 单节点地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
