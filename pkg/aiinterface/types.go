package aiinterface

import "context"

// Message 消息结构
type Message struct {
	Role    string `json:"role"`    // system, user, assistant
	Content string `json:"content"` // 消息内容
}

// ChatCompletionRequest 对话补全请求
type ChatCompletionRequest struct {
	Model       string    `json:"model,omitempty"` // 覆盖客户端默认模型
	Messages    []Message `json:"messages"`        // 消息列表
	Temperature float64   `json:"temperature"`     // 温度参数（0-2）
	MaxTokens   int       `json:"max_tokens"`      // 最大 Token 数
	JSONMode    bool      `json:"json_mode"`       // 要求 JSON 对象输出
}

// ChatCompletionResponse 对话补全响应
type ChatCompletionResponse struct {
	ID      string `json:"id"`      // 响应 ID
	Model   string `json:"model"`   // 使用的模型
	Content string `json:"content"` // 生成的内容
	Usage   Usage  `json:"usage"`   // Token 使用情况
}

// Usage Token 使用情况
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`     // 输入 Token 数
	CompletionTokens int `json:"completion_tokens"` // 输出 Token 数
	TotalTokens      int `json:"total_tokens"`      // 总 Token 数
}

// ModelClient AI 模型客户端统一接口
type ModelClient interface {
	// ChatCompletion 对话补全（非流式）
	ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// Name 返回客户端名称（如 "openai", "anthropic"）
	Name() string

	// Close 关闭客户端连接
	Close() error
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Provider string // 提供商
	APIKey   string // API Key
	BaseURL  string // 基础 URL
	Model    string // 默认模型标识
	Timeout  int    // 超时时间（秒）
}

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeAuth          ErrorType = "auth"           // 认证错误
	ErrorTypeRateLimit     ErrorType = "rate_limit"     // 速率限制
	ErrorTypeInvalidParams ErrorType = "invalid_params" // 参数错误
	ErrorTypeServerError   ErrorType = "server_error"   // 服务器错误
	ErrorTypeNetwork       ErrorType = "network"        // 网络错误
	ErrorTypeUnknown       ErrorType = "unknown"        // 未知错误
)

// ClientError 客户端错误
type ClientError struct {
	Type    ErrorType // 错误类型
	Message string    // 错误消息
	Err     error     // 原始错误
}

// Error 实现error接口
func (e *ClientError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否可重试
func (e *ClientError) IsRetryable() bool {
	return e.Type == ErrorTypeRateLimit || e.Type == ErrorTypeNetwork || e.Type == ErrorTypeServerError
}

// ErrorTypeForStatus 按 HTTP 状态码归类错误
func ErrorTypeForStatus(status int) ErrorType {
	switch {
	case status == 401 || status == 403:
		return ErrorTypeAuth
	case status == 429:
		return ErrorTypeRateLimit
	case status == 400 || status == 404 || status == 422:
		return ErrorTypeInvalidParams
	case status >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}
