package models

import (
	"taskrouter/internal/ai"
	"taskrouter/internal/cache"
	"taskrouter/internal/common"
	"taskrouter/internal/health"
	"taskrouter/internal/logger"
	"taskrouter/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProviderHealth 提供商熔断状态
type ProviderHealth interface {
	Snapshot() []health.ProviderStatus
	Reset(p models.Provider)
}

// CacheStats 结果缓存统计
type CacheStats interface {
	Stats() cache.Stats
}

// modelView 候选模型及其可用性
type modelView struct {
	models.ModelOption
	Available bool `json:"available"` // 已配置执行器
}

// ModelHandler 模型与提供商状态 Handler
type ModelHandler struct {
	registry  *models.Registry
	available map[models.Provider]bool
	health    ProviderHealth
	monitor   *ai.PerformanceMonitor
	cache     CacheStats
}

// NewModelHandler 创建 ModelHandler 实例，monitor / cacheStats 可为 nil
func NewModelHandler(registry *models.Registry, available []models.Provider, health ProviderHealth, monitor *ai.PerformanceMonitor, cacheStats CacheStats) *ModelHandler {
	set := make(map[models.Provider]bool, len(available))
	for _, p := range available {
		set[p] = true
	}
	return &ModelHandler{
		registry:  registry,
		available: set,
		health:    health,
		monitor:   monitor,
		cache:     cacheStats,
	}
}

// ListModels 查询候选模型
// @Summary 查询候选模型
// @Tags Models
// @Produce json
// @Router /api/models [get]
func (h *ModelHandler) ListModels(c *gin.Context) {
	options := h.registry.ListCandidates()
	views := make([]modelView, 0, len(options))
	for _, o := range options {
		views = append(views, modelView{ModelOption: o, Available: h.available[o.Provider]})
	}
	common.ResponseList(c, views, len(views))
}

// GetPerformance 查询模型调用性能
// @Summary 模型性能统计
// @Tags Models
// @Produce json
// @Router /api/models/performance [get]
func (h *ModelHandler) GetPerformance(c *gin.Context) {
	if h.monitor == nil {
		common.ResponseList(c, []*ai.ModelPerformanceSummary{}, 0)
		return
	}
	summaries := h.monitor.Summaries()
	common.ResponseList(c, summaries, len(summaries))
}

// ListProviderHealth 查询提供商熔断状态
// @Summary 提供商健康状态
// @Tags Health
// @Produce json
// @Router /api/health/providers [get]
func (h *ModelHandler) ListProviderHealth(c *gin.Context) {
	snapshot := h.health.Snapshot()
	common.ResponseList(c, snapshot, len(snapshot))
}

// ResetProvider 手动关闭提供商熔断器
// @Summary 重置提供商熔断器
// @Tags Health
// @Param provider path string true "提供商"
// @Router /api/health/providers/{provider}/reset [post]
func (h *ModelHandler) ResetProvider(c *gin.Context) {
	p, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		common.ResponseBadRequest(c, err.Error())
		return
	}
	h.health.Reset(p)
	logger.WithContext(c.Request.Context()).Info("提供商熔断器已重置", zap.String("provider", string(p)))
	common.ResponseSuccess(c, gin.H{"provider": p})
}

// GetCacheStats 查询结果缓存统计
// @Summary 结果缓存统计
// @Tags Cache
// @Router /api/cache/stats [get]
func (h *ModelHandler) GetCacheStats(c *gin.Context) {
	if h.cache == nil {
		common.ResponseSuccess(c, cache.Stats{})
		return
	}
	common.ResponseSuccess(c, h.cache.Stats())
}
