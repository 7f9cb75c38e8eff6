package ai

import (
	"taskrouter/pkg/aiinterface"
)

// 重新导出aiinterface包的类型,避免子包对父包的依赖
type (
	Message                = aiinterface.Message
	ChatCompletionRequest  = aiinterface.ChatCompletionRequest
	ChatCompletionResponse = aiinterface.ChatCompletionResponse
	Usage                  = aiinterface.Usage
	ModelClient            = aiinterface.ModelClient
	ClientConfig           = aiinterface.ClientConfig
	ClientError            = aiinterface.ClientError
	ErrorType              = aiinterface.ErrorType
)

// 重新导出常量
const (
	ErrorTypeAuth          = aiinterface.ErrorTypeAuth
	ErrorTypeRateLimit     = aiinterface.ErrorTypeRateLimit
	ErrorTypeInvalidParams = aiinterface.ErrorTypeInvalidParams
	ErrorTypeServerError   = aiinterface.ErrorTypeServerError
	ErrorTypeNetwork       = aiinterface.ErrorTypeNetwork
	ErrorTypeUnknown       = aiinterface.ErrorTypeUnknown
)
