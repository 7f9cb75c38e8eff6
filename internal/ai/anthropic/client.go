package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskrouter/pkg/aiinterface"
	"taskrouter/pkg/httputil"
)

const apiVersion = "2023-06-01"

// Client Anthropic Claude 客户端适配器
type Client struct {
	apiKey  string
	baseURL string
	modelID string
	http    *httputil.Client
}

// NewClient 创建 Anthropic 客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "Anthropic API Key 不能为空",
		}
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: baseURL,
		modelID: config.Model,
		http:    httputil.NewClient(httputil.WithTimeout(time.Duration(timeout) * time.Second)),
	}, nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatCompletion 对话补全（非流式）
// Anthropic 没有 JSON 模式，JSONMode 时以预填 "{" 的 assistant 消息约束输出。
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	messages := make([]message, 0, len(req.Messages)+1)
	var system []string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		messages = append(messages, message{Role: msg.Role, Content: msg.Content})
	}
	if req.JSONMode {
		messages = append(messages, message{Role: "assistant", Content: "{"})
	}

	model := c.modelID
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := c.doRequest(ctx, messagesRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      strings.Join(system, "\n\n"),
	})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	if req.JSONMode {
		sb.WriteString("{")
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: sb.String(),
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return "anthropic"
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.http.Close()
}

// doRequest 执行 HTTP 请求
func (c *Client) doRequest(ctx context.Context, req messagesRequest) (*messagesResponse, error) {
	var resp messagesResponse
	err := c.http.PostJSON(ctx, c.baseURL+"/v1/messages", map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": apiVersion,
	}, req, &resp)
	if err == nil {
		return &resp, nil
	}

	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeForStatus(statusErr.StatusCode),
			Message: fmt.Sprintf("Anthropic API 错误 (HTTP %d): %s", statusErr.StatusCode, string(statusErr.Body)),
		}
	}
	return nil, &aiinterface.ClientError{
		Type:    aiinterface.ErrorTypeNetwork,
		Message: "请求失败",
		Err:     err,
	}
}
