package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseSuccess 返回成功响应
func ResponseSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse(data))
}

// ResponseList 返回列表响应
func ResponseList(c *gin.Context, items any, total int) {
	c.JSON(http.StatusOK, SuccessResponse(ListResponse{Items: items, Total: total}))
}

// HTTPStatus 业务状态码映射到 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound, CodeTaskNotFound:
		return http.StatusNotFound
	case CodeTierCapExceeded, CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeFallbackExhausted:
		return http.StatusBadGateway
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ResponseError 返回错误响应，message 为空时使用默认消息
func ResponseError(c *gin.Context, code int, message string) {
	if message == "" {
		message = GetErrorMessage(code)
	}
	c.JSON(HTTPStatus(code), ErrorResponse(code, message))
}

// ResponseErrorData 返回携带数据的错误响应
func ResponseErrorData(c *gin.Context, code int, message string, data any) {
	resp := ErrorResponse(code, message)
	resp.Data = data
	c.JSON(HTTPStatus(code), resp)
}

// AbortWithError 中断并返回错误
func AbortWithError(c *gin.Context, code int, message string) {
	ResponseError(c, code, message)
	c.Abort()
}

// ResponseBadRequest 返回参数错误响应
func ResponseBadRequest(c *gin.Context, message string) {
	ResponseError(c, CodeInvalidRequest, message)
}

// ResponseNotFound 返回资源不存在响应
func ResponseNotFound(c *gin.Context, message string) {
	ResponseError(c, CodeNotFound, message)
}

// ResponseServerError 返回服务器错误响应
func ResponseServerError(c *gin.Context, message string) {
	ResponseError(c, CodeInternalError, message)
}
