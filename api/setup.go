package api

import (
	"context"
	"net/http"
	"time"

	_ "taskrouter/api/docs"
	modelHandlers "taskrouter/api/handlers/models"
	taskHandlers "taskrouter/api/handlers/tasks"
	usageHandlers "taskrouter/api/handlers/usage"
	"taskrouter/internal/ai"
	"taskrouter/internal/health"
	"taskrouter/internal/metrics"
	"taskrouter/internal/middleware"
	"taskrouter/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// ReadinessProbe 依赖就绪检查
type ReadinessProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies HTTP 层依赖，可选项为 nil 时对应接口降级
type Dependencies struct {
	Runner      taskHandlers.TaskRunner
	Catalog     taskHandlers.TaskLister
	Registry    *models.Registry
	Available   []models.Provider
	Health      modelHandlers.ProviderHealth
	Monitor     *ai.PerformanceMonitor
	Cache       modelHandlers.CacheStats
	Usage       health.UsageStore
	Limits      usageHandlers.LimitsProvider
	Invocations usageHandlers.InvocationLister
	Probes      []ReadinessProbe
	RateLimiter *middleware.RateLimiter
	ServiceName string
}

// SetupRouter 设置并返回 Gin 路由
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	// 全局中间件
	router.Use(RequestID())
	router.Use(Recovery())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 公开端点
	router.GET("/health", HealthCheck(deps.ServiceName))
	router.GET("/ready", ReadinessCheck(deps.Probes))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	taskHandler := taskHandlers.NewTaskHandler(deps.Runner, deps.Catalog)
	modelHandler := modelHandlers.NewModelHandler(deps.Registry, deps.Available, deps.Health, deps.Monitor, deps.Cache)
	usageHandler := usageHandlers.NewHandler(deps.Usage, deps.Limits, deps.Invocations)

	api := router.Group("/api")
	{
		tasks := api.Group("/tasks")
		tasks.GET("", taskHandler.ListTasks)
		tasks.GET("/:task", taskHandler.GetTask)
		if deps.RateLimiter != nil {
			tasks.POST("/:task/run", middleware.RateLimitMiddleware(deps.RateLimiter), taskHandler.RunTask)
		} else {
			tasks.POST("/:task/run", taskHandler.RunTask)
		}

		api.GET("/models", modelHandler.ListModels)
		api.GET("/models/performance", modelHandler.GetPerformance)
		api.GET("/health/providers", modelHandler.ListProviderHealth)
		api.POST("/health/providers/:provider/reset", modelHandler.ResetProvider)
		api.GET("/cache/stats", modelHandler.GetCacheStats)

		api.GET("/usage/:user", usageHandler.GetUsage)
		api.GET("/invocations", usageHandler.ListInvocations)
	}

	return router
}

// HealthCheck 存活检查
func HealthCheck(service string) gin.HandlerFunc {
	if service == "" {
		service = "taskrouter"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	}
}

// ReadinessCheck 就绪检查，任一依赖失败返回 503
func ReadinessCheck(probes []ReadinessProbe) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string, len(probes))
		ready := true
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				checks[p.Name] = err.Error()
				ready = false
				continue
			}
			checks[p.Name] = "ok"
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "checks": checks})
	}
}
