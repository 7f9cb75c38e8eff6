package common

// ============================================================================
// 通用响应类型
// ============================================================================

// APIResponse 统一API响应格式
type APIResponse struct {
	Success bool   `json:"success"`           // 是否成功
	Data    any    `json:"data,omitempty"`    // 响应数据
	Message string `json:"message,omitempty"` // 提示信息
	Code    int    `json:"code"`              // 业务状态码
}

// SuccessResponse 成功响应
func SuccessResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Code:    CodeSuccess,
	}
}

// ErrorResponse 错误响应
func ErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Code:    code,
	}
}

// ListResponse 列表响应
type ListResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

// ============================================================================
// 业务状态码定义
// ============================================================================

const (
	CodeSuccess = 0

	// 通用错误码 (1000-1999)
	CodeInvalidRequest     = 1000 // 请求参数错误
	CodeNotFound           = 1003 // 资源不存在
	CodeTooManyRequests    = 1004 // 请求过于频繁
	CodeInternalError      = 1005 // 内部错误
	CodeServiceUnavailable = 1006 // 服务不可用

	// 任务相关错误码 (3000-3099)
	CodeTaskNotFound      = 3000 // 任务不存在
	CodeTierCapExceeded   = 3001 // 层级限额超限
	CodeFallbackExhausted = 3002 // 所有候选均失败
)

// ErrorMessages 错误码对应的默认消息
var ErrorMessages = map[int]string{
	CodeSuccess:            "操作成功",
	CodeInvalidRequest:     "请求参数错误",
	CodeNotFound:           "资源不存在",
	CodeTooManyRequests:    "请求过于频繁，请稍后重试",
	CodeInternalError:      "系统内部错误",
	CodeServiceUnavailable: "服务暂不可用",

	CodeTaskNotFound:      "任务不存在",
	CodeTierCapExceeded:   "已达到层级限额",
	CodeFallbackExhausted: "所有模型调用均失败",
}

// GetErrorMessage 获取错误码对应的消息
func GetErrorMessage(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "未知错误"
}
