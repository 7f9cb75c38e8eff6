package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"taskrouter/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 兼容协议客户端（OpenAI / DeepSeek / Qwen）
type Client struct {
	client  *openai.Client
	name    string
	modelID string
}

// NewClient 创建 OpenAI 兼容客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: config.Provider + " API Key 不能为空",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60
	}
	clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}

	name := config.Provider
	if name == "" {
		name = "openai"
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientConfig),
		name:    name,
		modelID: config.Model,
	}, nil
}

// ChatCompletion 对话补全，重试由上层路由负责
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	model := c.modelID
	if req.Model != "" {
		model = req.Model
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		openaiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return nil, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeServerError,
			Message: c.name + " API 返回空响应",
		}
	}

	return &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return c.name
}

// Close 关闭客户端
func (c *Client) Close() error {
	// OpenAI 客户端无需显式关闭
	return nil
}

// wrapError 按 SDK 错误类型归类
func (c *Client) wrapError(err error) *aiinterface.ClientError {
	errType := aiinterface.ErrorTypeUnknown

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		errType = aiinterface.ErrorTypeForStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		errType = aiinterface.ErrorTypeForStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		errType = aiinterface.ErrorTypeNetwork
	}

	return &aiinterface.ClientError{
		Type:    errType,
		Message: c.name + " API 错误",
		Err:     err,
	}
}
