// Package telemetry 提供调用遥测接收端：日志、指标、数据库与用量计数
package telemetry

import (
	"context"
	"fmt"
	"strconv"

	"taskrouter/internal/health"
	"taskrouter/internal/logger"
	"taskrouter/internal/metrics"
	"taskrouter/internal/models"
	"taskrouter/internal/router"

	"go.uber.org/zap"
)

var (
	_ router.TelemetrySink = (*ZapSink)(nil)
	_ router.TelemetrySink = MetricsSink{}
	_ router.TelemetrySink = (*UsageSink)(nil)
	_ router.TelemetrySink = MultiSink(nil)
)

// ZapSink 将调用记录写入结构化日志
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink 创建日志接收端
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) LogInvocation(ctx context.Context, rec *router.InvocationRecord) {
	fields := []zap.Field{
		zap.String("trace_id", rec.TraceID),
		zap.String("user_id", rec.UserID),
		zap.String("task", rec.Task),
		zap.String("tier", string(rec.Tier)),
		zap.String("provider", string(rec.Provider)),
		zap.String("model", rec.Model),
		zap.String("quality", string(rec.Quality)),
		zap.String("reason", rec.Reason),
		zap.Bool("cache_hit", rec.CacheHit),
		zap.Int("attempts", rec.Attempts),
		zap.Int64("latency_ms", rec.LatencyMs),
		zap.Float64("cost", rec.CostEstimate),
		zap.Int("input_tokens", rec.InputTokens),
		zap.Int("output_tokens", rec.OutputTokens),
	}
	if rec.Success {
		s.logger.Info("任务调用完成", fields...)
		return
	}
	fields = append(fields,
		zap.String("error_code", rec.ErrorCode),
		zap.String("error", rec.ErrorMessage),
	)
	s.logger.Warn("任务调用失败", fields...)
}

// MetricsSink 将调用记录写入 Prometheus 指标
type MetricsSink struct{}

func (MetricsSink) LogInvocation(ctx context.Context, rec *router.InvocationRecord) {
	metrics.TaskRunsTotal.WithLabelValues(rec.Task, rec.Reason, strconv.FormatBool(rec.CacheHit)).Inc()
	metrics.TaskRunDuration.WithLabelValues(rec.Task).Observe(float64(rec.LatencyMs) / 1000)
	if rec.Success && rec.CostEstimate > 0 {
		metrics.TaskRunCost.WithLabelValues(rec.Task, string(rec.Provider), rec.Model).Add(rec.CostEstimate)
	}
}

// UsageSink 成功且非缓存命中的调用计入用户月度用量
type UsageSink struct {
	store  health.UsageStore
	logger *zap.Logger
}

// NewUsageSink 创建用量接收端
func NewUsageSink(store health.UsageStore, logger *zap.Logger) *UsageSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageSink{store: store, logger: logger}
}

func (s *UsageSink) LogInvocation(ctx context.Context, rec *router.InvocationRecord) {
	if s.store == nil || !rec.Success || rec.CacheHit || rec.UserID == "" {
		return
	}
	period := models.UsagePeriod(rec.CreatedAt)
	if err := s.store.Increment(context.WithoutCancel(ctx), rec.UserID, period, rec.Quality, rec.CostEstimate); err != nil {
		s.logger.Warn("用量计数失败",
			zap.String("trace_id", rec.TraceID),
			zap.String("user_id", rec.UserID),
			zap.Error(err),
		)
	}
}

// MultiSink 依次分发到多个接收端，单个接收端 panic 不影响其余
type MultiSink []router.TelemetrySink

func (m MultiSink) LogInvocation(ctx context.Context, rec *router.InvocationRecord) {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		dispatch(ctx, sink, rec)
	}
}

func dispatch(ctx context.Context, sink router.TelemetrySink, rec *router.InvocationRecord) {
	defer func() {
		if p := recover(); p != nil {
			logger.Named("telemetry").Error("遥测接收端异常",
				zap.Any("panic", p),
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.String("trace_id", rec.TraceID),
			)
		}
	}()
	sink.LogInvocation(ctx, rec)
}
