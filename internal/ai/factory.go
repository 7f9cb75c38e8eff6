package ai

import (
	"fmt"
	"sync"

	"taskrouter/internal/ai/anthropic"
	"taskrouter/internal/ai/openai"
	"taskrouter/internal/models"
	"taskrouter/internal/router"
	"taskrouter/pkg/aiinterface"

	"go.uber.org/zap"
)

// ProviderSettings 单个提供商的连接配置
type ProviderSettings struct {
	APIKey    string `mapstructure:"api_key"`
	APIKeyEnv string `mapstructure:"api_key_env"` // 从该环境变量读取 API Key
	BaseURL   string `mapstructure:"base_url"`
	Timeout   int    `mapstructure:"timeout"` // 秒
}

type constructor func(config *ClientConfig) (ModelClient, error)

// registration 提供商注册信息
type registration struct {
	baseURL   string
	apiKeyEnv string
	build     constructor
}

func openAICompatible(config *ClientConfig) (ModelClient, error) {
	return openai.NewClient(config)
}

func anthropicMessages(config *ClientConfig) (ModelClient, error) {
	return anthropic.NewClient(config)
}

// providerTable 提供商到客户端构造器的注册表
var providerTable = map[models.Provider]registration{
	models.ProviderOpenAI: {
		baseURL:   "https://api.openai.com/v1",
		apiKeyEnv: "OPENAI_API_KEY",
		build:     openAICompatible,
	},
	models.ProviderAnthropic: {
		baseURL:   "https://api.anthropic.com",
		apiKeyEnv: "ANTHROPIC_API_KEY",
		build:     anthropicMessages,
	},
	models.ProviderDeepSeek: {
		// DeepSeek 兼容 OpenAI 协议
		baseURL:   "https://api.deepseek.com",
		apiKeyEnv: "DEEPSEEK_API_KEY",
		build:     openAICompatible,
	},
	models.ProviderQwen: {
		// Qwen 兼容 OpenAI 协议
		baseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
		apiKeyEnv: "QWEN_API_KEY",
		build:     openAICompatible,
	},
}

var _ aiinterface.ClientFactory = (*ClientFactory)(nil)

// ClientFactory 模型客户端工厂
type ClientFactory struct {
	settings map[models.Provider]ProviderSettings
	clients  map[models.Provider]ModelClient // 客户端缓存
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewClientFactory 创建客户端工厂
func NewClientFactory(settings map[models.Provider]ProviderSettings, logger *zap.Logger) *ClientFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings == nil {
		settings = make(map[models.Provider]ProviderSettings)
	}
	return &ClientFactory{
		settings: settings,
		clients:  make(map[models.Provider]ModelClient),
		logger:   logger,
	}
}

// CreateClient 按提供商创建新客户端
func (f *ClientFactory) CreateClient(provider string, config *ClientConfig) (ModelClient, error) {
	p, err := models.ParseProvider(provider)
	if err != nil {
		return nil, err
	}
	reg := providerTable[p]
	cfg := *config
	cfg.Provider = string(p)
	if cfg.BaseURL == "" {
		cfg.BaseURL = reg.baseURL
	}
	return reg.build(&cfg)
}

// SupportedProviders 支持的提供商
func (f *ClientFactory) SupportedProviders() []string {
	out := make([]string, 0, len(models.AllProviders))
	for _, p := range models.AllProviders {
		out = append(out, string(p))
	}
	return out
}

// GetClient 获取（并缓存）提供商客户端
func (f *ClientFactory) GetClient(provider models.Provider) (ModelClient, error) {
	f.mu.RLock()
	if client, ok := f.clients[provider]; ok {
		f.mu.RUnlock()
		return client, nil
	}
	f.mu.RUnlock()

	reg, ok := providerTable[provider]
	if !ok {
		return nil, fmt.Errorf("不支持的提供商: %s", provider)
	}
	settings := f.settings[provider]
	apiKey := resolveAPIKey(settings, reg.apiKeyEnv)
	if apiKey == "" {
		return nil, &ClientError{Type: ErrorTypeAuth, Message: fmt.Sprintf("提供商 %s 未配置 API Key", provider)}
	}

	client, err := f.CreateClient(string(provider), &ClientConfig{
		APIKey:  apiKey,
		BaseURL: settings.BaseURL,
		Timeout: settings.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建客户端失败: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.clients[provider]; ok {
		_ = client.Close()
		return existing, nil
	}
	f.clients[provider] = client
	return client, nil
}

// BuildExecutors 为所有已配置凭证的提供商创建执行器，未配置的提供商不注册
func (f *ClientFactory) BuildExecutors(monitor *PerformanceMonitor) router.ExecutorRegistry {
	executors := make(router.ExecutorRegistry)
	for _, p := range models.AllProviders {
		client, err := f.GetClient(p)
		if err != nil {
			f.logger.Warn("提供商不可用，跳过注册", zap.String("provider", string(p)), zap.Error(err))
			continue
		}
		executors[p] = NewClientExecutor(p, client, monitor, f.logger)
		f.logger.Info("提供商执行器已注册", zap.String("provider", string(p)))
	}
	return executors
}

// Close 关闭所有缓存的客户端
func (f *ClientFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, client := range f.clients {
		_ = client.Close()
	}
	f.clients = make(map[models.Provider]ModelClient)
}
