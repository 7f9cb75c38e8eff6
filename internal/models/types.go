package models

import "fmt"

// ============================================================================
// 质量等级
// ============================================================================

// Quality 输出质量等级，全序 low < standard < high
type Quality string

const (
	QualityLow      Quality = "low"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// Rank 返回质量等级的序号，未知等级返回 -1
func (q Quality) Rank() int {
	switch q {
	case QualityLow:
		return 0
	case QualityStandard:
		return 1
	case QualityHigh:
		return 2
	default:
		return -1
	}
}

// Valid 是否为已知质量等级
func (q Quality) Valid() bool {
	return q.Rank() >= 0
}

// MinQuality 返回两者中较低的等级
func MinQuality(a, b Quality) Quality {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// ParseQuality 解析质量等级字符串
func ParseQuality(s string) (Quality, error) {
	q := Quality(s)
	if !q.Valid() {
		return "", fmt.Errorf("未知质量等级: %s", s)
	}
	return q, nil
}

// ============================================================================
// 提供商
// ============================================================================

// Provider AI 提供商标识（封闭枚举）
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderQwen      Provider = "qwen"
)

// AllProviders 全部已知提供商，顺序固定
var AllProviders = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderQwen}

// Valid 是否为已知提供商
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderQwen:
		return true
	default:
		return false
	}
}

// ParseProvider 解析提供商字符串
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("未知提供商: %s", s)
	}
	return p, nil
}

// ============================================================================
// 用户层级
// ============================================================================

// UserTier 调用方账户层级
type UserTier string

const (
	TierFree       UserTier = "free"
	TierBasic      UserTier = "basic"
	TierPro        UserTier = "pro"
	TierEnterprise UserTier = "enterprise"
)

// AllTiers 全部层级，由低到高
var AllTiers = []UserTier{TierFree, TierBasic, TierPro, TierEnterprise}

// Valid 是否为已知层级
func (t UserTier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	default:
		return false
	}
}

// IsTop 是否为最高层级（无法再升级）
func (t UserTier) IsTop() bool {
	return t == TierEnterprise
}

// ============================================================================
// 模型候选与任务规格
// ============================================================================

// ModelOption 模型候选项（编译期内置，只读）
type ModelOption struct {
	Provider        Provider `json:"provider" yaml:"provider"`
	ModelID         string   `json:"modelId" yaml:"model_id"`
	Quality         Quality  `json:"quality" yaml:"quality"`
	SupportsJSON    bool     `json:"supportsJson" yaml:"supports_json"`
	MaxTokens       int      `json:"maxTokens" yaml:"max_tokens"`
	CostPer1KTokens float64  `json:"costPer1kTokens" yaml:"cost_per_1k_tokens"`
}

// Key 返回 provider/model 形式的标识
func (o ModelOption) Key() string {
	return string(o.Provider) + "/" + o.ModelID
}

// TaskSpec 任务规格
type TaskSpec struct {
	TaskID                  string         `json:"taskId" yaml:"task_id"`
	Description             string         `json:"description,omitempty" yaml:"description"`
	RequiresJSON            bool           `json:"requiresJson" yaml:"requires_json"`
	PreferredQualityDefault Quality        `json:"preferredQualityDefault" yaml:"preferred_quality_default"`
	CacheTTLSeconds         *int           `json:"cacheTtlSeconds,omitempty" yaml:"cache_ttl_seconds"`
	MaxTokensHint           *int           `json:"maxTokensHint,omitempty" yaml:"max_tokens_hint"`
	ProviderHints           []Provider     `json:"providerHints,omitempty" yaml:"provider_hints"`
	SystemPrompt            string         `json:"systemPrompt,omitempty" yaml:"system_prompt"`
	UserTemplate            string         `json:"userTemplate,omitempty" yaml:"user_template"`
	JSONSchema              map[string]any `json:"jsonSchema,omitempty" yaml:"json_schema"`
}

// CacheTTL 返回缓存 TTL 秒数，未配置为 0
func (s *TaskSpec) CacheTTL() int {
	if s == nil || s.CacheTTLSeconds == nil || *s.CacheTTLSeconds < 0 {
		return 0
	}
	return *s.CacheTTLSeconds
}

// HasHint 判断提供商是否在任务提示列表中
func (s *TaskSpec) HasHint(p Provider) bool {
	for _, h := range s.ProviderHints {
		if h == p {
			return true
		}
	}
	return false
}

// ============================================================================
// 层级限额
// ============================================================================

// TierLimits 层级限额，-1 表示无限制
type TierLimits struct {
	MaxQuality      Quality `json:"maxQuality" mapstructure:"max_quality"`
	MonthlyRuns     int64   `json:"monthlyRuns" mapstructure:"monthly_runs"`
	MonthlyHighRuns int64   `json:"monthlyHighRuns" mapstructure:"monthly_high_runs"`
}

// DefaultTierLimits 默认层级限额
func DefaultTierLimits() map[UserTier]TierLimits {
	return map[UserTier]TierLimits{
		TierFree:       {MaxQuality: QualityStandard, MonthlyRuns: 50, MonthlyHighRuns: 0},
		TierBasic:      {MaxQuality: QualityStandard, MonthlyRuns: 500, MonthlyHighRuns: 0},
		TierPro:        {MaxQuality: QualityHigh, MonthlyRuns: 5000, MonthlyHighRuns: 500},
		TierEnterprise: {MaxQuality: QualityHigh, MonthlyRuns: -1, MonthlyHighRuns: -1},
	}
}

// CapDecision 层级限额检查结果
type CapDecision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
