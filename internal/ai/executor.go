package ai

import (
	"context"
	"time"

	"taskrouter/internal/models"
	"taskrouter/internal/router"

	"go.uber.org/zap"
)

// ClientExecutor 将 ModelClient 适配为路由器的 ProviderExecutor
type ClientExecutor struct {
	provider models.Provider
	client   ModelClient
	monitor  *PerformanceMonitor
	logger   *zap.Logger
}

// NewClientExecutor 创建执行器，monitor 可为 nil
func NewClientExecutor(provider models.Provider, client ModelClient, monitor *PerformanceMonitor, logger *zap.Logger) *ClientExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientExecutor{provider: provider, client: client, monitor: monitor, logger: logger}
}

// Invoke 执行一次补全调用
func (e *ClientExecutor) Invoke(ctx context.Context, req *router.InvokeRequest) (*router.InvokeResult, error) {
	messages := make([]Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: req.UserPrompt})

	start := time.Now()
	resp, err := e.client.ChatCompletion(ctx, &ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperatureFor(req.Strictness),
		MaxTokens:   req.MaxTokens,
		JSONMode:    req.JSONMode,
	})
	elapsed := time.Since(start)

	var in, out int
	if resp != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	if e.monitor != nil {
		e.monitor.RecordRequest(string(e.provider), req.Model, elapsed, in, out, err)
	}
	if err != nil {
		e.logger.Debug("模型调用失败",
			zap.String("provider", string(e.provider)),
			zap.String("model", req.Model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	return &router.InvokeResult{
		Success:      true,
		Content:      resp.Content,
		InputTokens:  in,
		OutputTokens: out,
	}, nil
}

// temperatureFor 严格度越高温度越低
func temperatureFor(strictness int) float64 {
	switch {
	case strictness >= router.StrictnessStrict:
		return 0
	default:
		return 0.2
	}
}
