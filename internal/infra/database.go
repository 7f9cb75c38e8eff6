package infra

import (
	"fmt"
	"time"

	"taskrouter/internal/config"
	"taskrouter/internal/logger"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var globalDB *gorm.DB

// InitDatabase 初始化数据库连接
// driver=sqlite 使用纯 Go 的 SQLite，driver=postgres 使用 DSN
func InitDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormLog := NewGormZapLogger(logger.Named("gorm"), parseGormLevel(cfg.LogLevel))

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "file::memory:"
		}
		dialector = sqlite.Open(path)
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 SQL DB 失败: %w", err)
	}

	// SQLite 单写者
	if cfg.Driver == "postgres" {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		sqlDB.SetMaxOpenConns(1)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	logger.Info("数据库连接成功",
		zap.String("driver", cfg.Driver),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
		zap.String("path", cfg.Path),
	)

	globalDB = db
	return db, nil
}

func parseGormLevel(level string) gormLogger.LogLevel {
	switch level {
	case "silent":
		return gormLogger.Silent
	case "error":
		return gormLogger.Error
	case "info":
		return gormLogger.Info
	default:
		return gormLogger.Warn
	}
}

// GetDB 获取全局数据库实例
func GetDB() *gorm.DB {
	if globalDB == nil {
		panic("数据库未初始化，请先调用 InitDatabase()")
	}
	return globalDB
}

// AutoMigrate 执行自动迁移
func AutoMigrate(db *gorm.DB, models ...any) error {
	logger.Info("开始执行数据库自动迁移")
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.Info("数据库迁移完成")
	return nil
}

// CloseDatabase 关闭数据库连接
func CloseDatabase() error {
	if globalDB != nil {
		sqlDB, err := globalDB.DB()
		if err != nil {
			return err
		}
		globalDB = nil
		return sqlDB.Close()
	}
	return nil
}

// HealthCheck 数据库健康检查
func HealthCheck() error {
	if globalDB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	sqlDB, err := globalDB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}
