package models

// defaultModelOptions 内置模型候选表，顺序即同价位时的优先级
var defaultModelOptions = []ModelOption{
	{Provider: ProviderDeepSeek, ModelID: "deepseek-chat", Quality: QualityStandard, SupportsJSON: true, MaxTokens: 4096, CostPer1KTokens: 0.00028},
	{Provider: ProviderQwen, ModelID: "qwen-turbo", Quality: QualityLow, SupportsJSON: true, MaxTokens: 2048, CostPer1KTokens: 0.0003},
	{Provider: ProviderOpenAI, ModelID: "gpt-4o-mini", Quality: QualityStandard, SupportsJSON: true, MaxTokens: 4096, CostPer1KTokens: 0.0006},
	{Provider: ProviderQwen, ModelID: "qwen-plus", Quality: QualityStandard, SupportsJSON: true, MaxTokens: 4096, CostPer1KTokens: 0.0012},
	{Provider: ProviderAnthropic, ModelID: "claude-3-5-haiku-20241022", Quality: QualityStandard, SupportsJSON: false, MaxTokens: 4096, CostPer1KTokens: 0.004},
	{Provider: ProviderDeepSeek, ModelID: "deepseek-reasoner", Quality: QualityHigh, SupportsJSON: false, MaxTokens: 8192, CostPer1KTokens: 0.0022},
	{Provider: ProviderOpenAI, ModelID: "gpt-4o", Quality: QualityHigh, SupportsJSON: true, MaxTokens: 8192, CostPer1KTokens: 0.01},
	{Provider: ProviderAnthropic, ModelID: "claude-sonnet-4-20250514", Quality: QualityHigh, SupportsJSON: true, MaxTokens: 8192, CostPer1KTokens: 0.015},
}

// DefaultModelOptions 返回内置候选表副本
func DefaultModelOptions() []ModelOption {
	out := make([]ModelOption, len(defaultModelOptions))
	copy(out, defaultModelOptions)
	return out
}

// Registry 模型候选注册表，创建后不可变
type Registry struct {
	options []ModelOption
}

// NewRegistry 创建注册表，options 为空时使用内置候选表
func NewRegistry(options []ModelOption) *Registry {
	if len(options) == 0 {
		options = defaultModelOptions
	}
	cp := make([]ModelOption, len(options))
	copy(cp, options)
	return &Registry{options: cp}
}

// ListCandidates 返回全部候选项（副本）
func (r *Registry) ListCandidates() []ModelOption {
	out := make([]ModelOption, len(r.options))
	copy(out, r.options)
	return out
}

// Find 按提供商与模型 ID 查找候选项
func (r *Registry) Find(provider Provider, modelID string) (ModelOption, bool) {
	for _, o := range r.options {
		if o.Provider == provider && o.ModelID == modelID {
			return o, true
		}
	}
	return ModelOption{}, false
}

// Providers 返回注册表中出现过的提供商（按首次出现顺序）
func (r *Registry) Providers() []Provider {
	seen := make(map[Provider]bool)
	var out []Provider
	for _, o := range r.options {
		if !seen[o.Provider] {
			seen[o.Provider] = true
			out = append(out, o.Provider)
		}
	}
	return out
}
