package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"taskrouter/internal/router"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var _ router.TelemetrySink = (*DBSink)(nil)

// InvocationLog 任务调用日志
type InvocationLog struct {
	ID           string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TraceID      string         `gorm:"type:varchar(64);index" json:"traceId"`
	UserID       string         `gorm:"type:varchar(128);index" json:"userId,omitempty"`
	Task         string         `gorm:"type:varchar(128);index" json:"task"`
	Tier         string         `gorm:"type:varchar(32)" json:"tier"`
	Provider     string         `gorm:"type:varchar(32)" json:"provider,omitempty"`
	Model        string         `gorm:"type:varchar(128)" json:"model,omitempty"`
	Quality      string         `gorm:"type:varchar(16)" json:"quality,omitempty"`
	Reason       string         `gorm:"type:varchar(64);index" json:"reason"`
	Success      bool           `json:"success"`
	CacheHit     bool           `json:"cacheHit"`
	InputChars   int            `json:"inputChars"`
	OutputChars  int            `json:"outputChars"`
	InputTokens  int            `json:"inputTokens"`
	OutputTokens int            `json:"outputTokens"`
	Attempts     int            `json:"attempts"`
	LatencyMs    int64          `json:"latencyMs"`
	Cost         float64        `json:"cost"`
	ErrorCode    string         `gorm:"type:varchar(64)" json:"errorCode,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"errorMessage,omitempty"`
	Errors       datatypes.JSON `json:"errors,omitempty"`
	CreatedAt    time.Time      `gorm:"index" json:"createdAt"`
}

// TableName 指定表名
func (InvocationLog) TableName() string {
	return "invocation_logs"
}

// LogFilter 调用日志查询条件
type LogFilter struct {
	UserID string
	Task   string
	Reason string
	Limit  int
}

// DBSink 数据库遥测接收端
type DBSink struct {
	db     *gorm.DB
	logger *zap.Logger
	async  bool
	wg     sync.WaitGroup
}

// NewDBSink 创建数据库接收端，async 时写入在后台进行
func NewDBSink(db *gorm.DB, logger *zap.Logger, async bool) *DBSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBSink{db: db, logger: logger, async: async}
}

// AutoMigrate 创建调用日志表
func (s *DBSink) AutoMigrate() error {
	return s.db.AutoMigrate(&InvocationLog{})
}

func (s *DBSink) LogInvocation(ctx context.Context, rec *router.InvocationRecord) {
	row, err := toLog(rec)
	if err != nil {
		s.logger.Warn("调用日志转换失败", zap.String("trace_id", rec.TraceID), zap.Error(err))
		return
	}

	ctx = context.WithoutCancel(ctx)
	if !s.async {
		s.write(ctx, row)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.write(ctx, row)
	}()
}

func (s *DBSink) write(ctx context.Context, row *InvocationLog) {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		// 记录日志失败不影响主流程
		s.logger.Warn("写入调用日志失败", zap.String("trace_id", row.TraceID), zap.Error(err))
	}
}

// Flush 等待后台写入完成
func (s *DBSink) Flush() {
	s.wg.Wait()
}

// ListRecent 按时间倒序查询调用日志
func (s *DBSink) ListRecent(ctx context.Context, filter LogFilter) ([]*InvocationLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&InvocationLog{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Task != "" {
		query = query.Where("task = ?", filter.Task)
	}
	if filter.Reason != "" {
		query = query.Where("reason = ?", filter.Reason)
	}

	var logs []*InvocationLog
	if err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("查询调用日志失败: %w", err)
	}
	return logs, nil
}

func toLog(rec *router.InvocationRecord) (*InvocationLog, error) {
	var trail datatypes.JSON
	if len(rec.Errors) > 0 {
		raw, err := json.Marshal(rec.Errors)
		if err != nil {
			return nil, err
		}
		trail = datatypes.JSON(raw)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &InvocationLog{
		ID:           uuid.NewString(),
		TraceID:      rec.TraceID,
		UserID:       rec.UserID,
		Task:         rec.Task,
		Tier:         string(rec.Tier),
		Provider:     string(rec.Provider),
		Model:        rec.Model,
		Quality:      string(rec.Quality),
		Reason:       rec.Reason,
		Success:      rec.Success,
		CacheHit:     rec.CacheHit,
		InputChars:   rec.InputChars,
		OutputChars:  rec.OutputChars,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		Attempts:     rec.Attempts,
		LatencyMs:    rec.LatencyMs,
		Cost:         rec.CostEstimate,
		ErrorCode:    rec.ErrorCode,
		ErrorMessage: rec.ErrorMessage,
		Errors:       trail,
		CreatedAt:    createdAt.UTC(),
	}, nil
}
