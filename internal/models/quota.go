package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageCounter 用户月度用量计数
type UsageCounter struct {
	ID        string  `json:"id" gorm:"primaryKey;size:36"`
	UserID    string  `json:"userId" gorm:"size:128;not null;uniqueIndex:idx_usage_user_period"`
	Period    string  `json:"period" gorm:"size:7;not null;uniqueIndex:idx_usage_user_period"` // YYYY-MM
	Runs      int64   `json:"runs" gorm:"not null;default:0"`
	HighRuns  int64   `json:"highRuns" gorm:"not null;default:0"`
	TotalCost float64 `json:"totalCost" gorm:"type:decimal(12,6);default:0"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}

// UsagePeriod 返回时间所属的计费周期（UTC 月份）
func UsagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// NextPeriodStart 返回下一个计费周期的开始时间
func NextPeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// QuotaService 基于数据库的用量服务
type QuotaService struct {
	db *gorm.DB
}

// NewQuotaService 创建用量服务
func NewQuotaService(db *gorm.DB) *QuotaService {
	return &QuotaService{db: db}
}

// AutoMigrate 自动迁移表结构
func (s *QuotaService) AutoMigrate() error {
	return s.db.AutoMigrate(&UsageCounter{})
}

// GetUsage 获取用户在指定周期的用量，无记录时返回零值
func (s *QuotaService) GetUsage(ctx context.Context, userID, period string) (*UsageCounter, error) {
	var counter UsageCounter
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND period = ?", userID, period).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &UsageCounter{UserID: userID, Period: period}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询用量失败: %w", err)
	}
	return &counter, nil
}

// Increment 累加一次运行的用量
func (s *QuotaService) Increment(ctx context.Context, userID, period string, quality Quality, cost float64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter UsageCounter
		err := tx.Where("user_id = ? AND period = ?", userID, period).
			First(&counter).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = UsageCounter{
				ID:     uuid.New().String(),
				UserID: userID,
				Period: period,
			}
		} else if err != nil {
			return fmt.Errorf("查询用量失败: %w", err)
		}

		counter.Runs++
		if quality == QualityHigh {
			counter.HighRuns++
		}
		counter.TotalCost += cost

		if err := tx.Save(&counter).Error; err != nil {
			return fmt.Errorf("更新用量失败: %w", err)
		}
		return nil
	})
}

// ListUsage 获取用户的历史用量，按周期倒序
func (s *QuotaService) ListUsage(ctx context.Context, userID string) ([]*UsageCounter, error) {
	var counters []*UsageCounter
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("period DESC").
		Find(&counters).Error; err != nil {
		return nil, fmt.Errorf("查询用量列表失败: %w", err)
	}
	return counters, nil
}
