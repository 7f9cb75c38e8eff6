package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware Prometheus 指标收集中间件
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 跳过 /metrics 端点，避免自我监控
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := normalizePath(c)
		status := strconv.Itoa(c.Writer.Status())

		APIRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath 使用路由模板作为标签，避免高基数
func normalizePath(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	return path
}
