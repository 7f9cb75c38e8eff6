package common

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordResponse(t *testing.T, fn func(c *gin.Context)) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestResponseSuccess(t *testing.T) {
	w, resp := recordResponse(t, func(c *gin.Context) { ResponseSuccess(c, gin.H{"k": "v"}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, CodeSuccess, resp.Code)
}

func TestResponseErrorDefaultMessage(t *testing.T) {
	w, resp := recordResponse(t, func(c *gin.Context) { ResponseError(c, CodeTaskNotFound, "") })
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "任务不存在", resp.Message)
}

func TestResponseErrorData(t *testing.T) {
	w, resp := recordResponse(t, func(c *gin.Context) {
		ResponseErrorData(c, CodeFallbackExhausted, "all failed", gin.H{"reason": "fallback_exhausted"})
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "all failed", resp.Message)
	assert.Equal(t, map[string]any{"reason": "fallback_exhausted"}, resp.Data)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]int{
		CodeInvalidRequest:     http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeTierCapExceeded:    http.StatusTooManyRequests,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		CodeInternalError:      http.StatusInternalServerError,
		9999:                   http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), "code %d", code)
	}
	assert.Equal(t, "未知错误", GetErrorMessage(9999))
}
