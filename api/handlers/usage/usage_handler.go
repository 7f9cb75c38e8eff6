package usage

import (
	"context"
	"strconv"
	"time"

	"taskrouter/internal/common"
	"taskrouter/internal/health"
	"taskrouter/internal/logger"
	"taskrouter/internal/models"
	"taskrouter/internal/telemetry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LimitsProvider 层级限额查询
type LimitsProvider interface {
	Limits(tier models.UserTier) models.TierLimits
}

// InvocationLister 调用日志查询
type InvocationLister interface {
	ListRecent(ctx context.Context, filter telemetry.LogFilter) ([]*telemetry.InvocationLog, error)
}

// usageView 用量与限额
type usageView struct {
	*models.UsageCounter
	Tier   models.UserTier   `json:"tier"`
	Limits models.TierLimits `json:"limits"`
}

// Handler 用量与调用日志 Handler
type Handler struct {
	store  health.UsageStore
	limits LimitsProvider
	logs   InvocationLister
	now    func() time.Time
}

// NewHandler 创建 Handler，logs 为 nil 表示未启用数据库遥测
func NewHandler(store health.UsageStore, limits LimitsProvider, logs InvocationLister) *Handler {
	return &Handler{store: store, limits: limits, logs: logs, now: time.Now}
}

// GetUsage 查询用户月度用量
// @Summary 用户月度用量
// @Tags Usage
// @Param user path string true "用户ID"
// @Param period query string false "周期 YYYY-MM，默认当月"
// @Param tier query string false "用户层级，默认 free"
// @Router /api/usage/{user} [get]
func (h *Handler) GetUsage(c *gin.Context) {
	period := c.Query("period")
	if period == "" {
		period = models.UsagePeriod(h.now())
	} else if _, err := time.Parse("2006-01", period); err != nil {
		common.ResponseBadRequest(c, "无效的周期: "+period)
		return
	}

	tier := models.UserTier(c.DefaultQuery("tier", string(models.TierFree)))
	if !tier.Valid() {
		common.ResponseBadRequest(c, "无效的用户层级: "+string(tier))
		return
	}

	counter, err := h.store.GetUsage(c.Request.Context(), c.Param("user"), period)
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("查询用量失败", zap.Error(err))
		common.ResponseServerError(c, "查询用量失败")
		return
	}

	view := usageView{UsageCounter: counter, Tier: tier}
	if h.limits != nil {
		view.Limits = h.limits.Limits(tier)
	}
	common.ResponseSuccess(c, view)
}

// ListInvocations 查询最近的调用日志
// @Summary 调用日志
// @Tags Usage
// @Param user query string false "用户ID"
// @Param task query string false "任务ID"
// @Param reason query string false "原因码"
// @Param limit query int false "条数，默认 50"
// @Router /api/invocations [get]
func (h *Handler) ListInvocations(c *gin.Context) {
	if h.logs == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "调用日志未启用")
		return
	}

	filter := telemetry.LogFilter{
		UserID: c.Query("user"),
		Task:   c.Query("task"),
		Reason: c.Query("reason"),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			common.ResponseBadRequest(c, "无效的 limit: "+limit)
			return
		}
		filter.Limit = n
	}

	logs, err := h.logs.ListRecent(c.Request.Context(), filter)
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("查询调用日志失败", zap.Error(err))
		common.ResponseServerError(c, "查询调用日志失败")
		return
	}
	common.ResponseList(c, logs, len(logs))
}
