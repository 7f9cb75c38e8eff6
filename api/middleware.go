package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"taskrouter/internal/common"
	"taskrouter/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderTraceID 请求追踪头
const HeaderTraceID = "X-Trace-ID"

// RequestID 为请求分配 trace_id 并写入上下文与响应头，沿用调用方传入的值
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = c.GetHeader("X-Request-ID")
		}
		if traceID == "" || len(traceID) > 64 {
			traceID = uuid.NewString()
		}

		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))
		c.Writer.Header().Set(HeaderTraceID, traceID)
		c.Next()
	}
}

// RequestLogger 请求日志中间件
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		l := logger.WithContext(c.Request.Context())
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Warn("HTTP Request", fields...)
			return
		}
		l.Info("HTTP Request", fields...)
	}
}

// Recovery panic 恢复，返回统一错误格式
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.WithContext(c.Request.Context()).Error("请求处理 panic",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
		)
		common.AbortWithError(c, common.CodeInternalError, "")
	})
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	allowedOrigins := getEnvList("CORS_ALLOW_ORIGINS")
	allowedHeaders := strings.Join(defaultIfEmpty(
		getEnvList("CORS_ALLOW_HEADERS"),
		[]string{"Content-Type", "Content-Length", "Accept", "Origin", "Cache-Control", HeaderTraceID, "X-Request-ID"},
	), ", ")
	allowedMethods := strings.Join(defaultIfEmpty(
		getEnvList("CORS_ALLOW_METHODS"),
		[]string{"POST", "OPTIONS", "GET"},
	), ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		switch {
		case len(allowedOrigins) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && stringInSlice(origin, allowedOrigins):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		c.Writer.Header().Set("Access-Control-Expose-Headers", HeaderTraceID)
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// getEnvList 读取逗号分隔的环境变量
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func stringInSlice(target string, list []string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
