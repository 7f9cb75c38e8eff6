package tasks

import (
	"context"
	"strings"

	"taskrouter/internal/common"
	"taskrouter/internal/logger"
	"taskrouter/internal/models"
	"taskrouter/internal/router"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TaskRunner 任务执行入口
type TaskRunner interface {
	RunTask(ctx context.Context, in router.RunInput) router.RunResult
}

// TaskLister 任务目录查询
type TaskLister interface {
	GetSpec(task string) (*models.TaskSpec, bool)
	List() []*models.TaskSpec
}

// runTaskRequest 任务运行请求体
type runTaskRequest struct {
	Input         any            `json:"input" binding:"required"`
	UserID        string         `json:"userId"`
	Tier          string         `json:"tier"`
	Quality       string         `json:"quality"`
	JSONSchema    map[string]any `json:"jsonSchema"`
	SchemaVersion string         `json:"schemaVersion"`
}

// taskView 对外展示的任务信息，不暴露提示词
type taskView struct {
	TaskID                  string            `json:"taskId"`
	Description             string            `json:"description,omitempty"`
	RequiresJSON            bool              `json:"requiresJson"`
	PreferredQualityDefault models.Quality    `json:"preferredQualityDefault"`
	CacheTTLSeconds         int               `json:"cacheTtlSeconds"`
	ProviderHints           []models.Provider `json:"providerHints,omitempty"`
}

// TaskHandler 任务 Handler
type TaskHandler struct {
	runner  TaskRunner
	catalog TaskLister
}

// NewTaskHandler 创建 TaskHandler 实例
func NewTaskHandler(runner TaskRunner, catalog TaskLister) *TaskHandler {
	return &TaskHandler{runner: runner, catalog: catalog}
}

// ListTasks 查询任务列表
// @Summary 查询任务列表
// @Tags Tasks
// @Produce json
// @Router /api/tasks [get]
func (h *TaskHandler) ListTasks(c *gin.Context) {
	specs := h.catalog.List()
	views := make([]taskView, 0, len(specs))
	for _, s := range specs {
		views = append(views, toView(s))
	}
	common.ResponseList(c, views, len(views))
}

// GetTask 查询单个任务
// @Summary 查询任务详情
// @Tags Tasks
// @Produce json
// @Param task path string true "任务ID"
// @Router /api/tasks/{task} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
	spec, ok := h.catalog.GetSpec(c.Param("task"))
	if !ok {
		common.ResponseError(c, common.CodeTaskNotFound, "")
		return
	}
	common.ResponseSuccess(c, toView(spec))
}

// RunTask 执行任务
// @Summary 执行任务
// @Description 按层级与质量选择模型，失败时自动降级
// @Tags Tasks
// @Accept json
// @Produce json
// @Param task path string true "任务ID"
// @Param request body runTaskRequest true "运行参数"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Failure 429 {object} common.APIResponse
// @Failure 502 {object} common.APIResponse
// @Router /api/tasks/{task}/run [post]
func (h *TaskHandler) RunTask(c *gin.Context) {
	var req runTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	tier := models.TierFree
	if req.Tier != "" {
		tier = models.UserTier(strings.ToLower(req.Tier))
		if !tier.Valid() {
			common.ResponseBadRequest(c, "无效的用户层级: "+req.Tier)
			return
		}
	}

	in := router.RunInput{
		Task:          c.Param("task"),
		Input:         req.Input,
		UserID:        req.UserID,
		Tier:          tier,
		JSONSchema:    req.JSONSchema,
		SchemaVersion: req.SchemaVersion,
		TraceID:       logger.GetTraceID(c.Request.Context()),
	}
	if req.Quality != "" {
		q, err := models.ParseQuality(req.Quality)
		if err != nil {
			common.ResponseBadRequest(c, err.Error())
			return
		}
		in.Quality = &q
	}

	res := h.runner.RunTask(c.Request.Context(), in)
	if res.OK {
		common.ResponseSuccess(c, res)
		return
	}

	logger.WithContext(c.Request.Context()).Warn("任务执行未成功",
		zap.String("task", in.Task),
		zap.String("reason", res.Reason),
	)
	common.ResponseErrorData(c, reasonCode(res.Reason), res.Message, res)
}

// reasonCode 结果原因码映射到业务状态码
func reasonCode(reason string) int {
	switch reason {
	case router.ReasonUnknownTask:
		return common.CodeTaskNotFound
	case router.ReasonTierCap:
		return common.CodeTierCapExceeded
	case router.ReasonFallbackExhausted:
		return common.CodeFallbackExhausted
	default:
		// 自定义限额码按限额处理
		return common.CodeTierCapExceeded
	}
}

func toView(s *models.TaskSpec) taskView {
	return taskView{
		TaskID:                  s.TaskID,
		Description:             s.Description,
		RequiresJSON:            s.RequiresJSON,
		PreferredQualityDefault: s.PreferredQualityDefault,
		CacheTTLSeconds:         s.CacheTTL(),
		ProviderHints:           s.ProviderHints,
	}
}
