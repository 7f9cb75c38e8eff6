package router

import (
	"sync"
	"unicode/utf8"

	"taskrouter/internal/models"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator 文本 token 数估算
type TokenEstimator interface {
	Estimate(model, text string) int
}

// CharEstimator 按 ceil(字符数/4) 粗略估算，仅用于提供商未返回用量时
type CharEstimator struct{}

func (CharEstimator) Estimate(_ string, text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// TiktokenEstimator 使用 tiktoken 编码计数，编码不可用时回退到字符估算
type TiktokenEstimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	fallback CharEstimator
}

// NewTiktokenEstimator 创建 tiktoken 估算器
func NewTiktokenEstimator() *TiktokenEstimator {
	return &TiktokenEstimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

func (e *TiktokenEstimator) Estimate(model, text string) int {
	tkm := e.encoder(model)
	if tkm == nil {
		return e.fallback.Estimate(model, text)
	}
	return len(tkm.Encode(text, nil, nil))
}

func (e *TiktokenEstimator) encoder(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tkm, ok := e.encoders[model]; ok {
		return tkm
	}
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// 非 OpenAI 模型回退到 cl100k_base
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			tkm = nil
		}
	}
	e.encoders[model] = tkm
	return tkm
}

// NewTokenEstimator 按名称创建估算器：tiktoken 或 chars（默认）
func NewTokenEstimator(name string) TokenEstimator {
	if name == "tiktoken" {
		return NewTiktokenEstimator()
	}
	return CharEstimator{}
}

// usage 单次成功调用的用量
type usage struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// estimateCost 成本优先取提供商返回值，其次取提供商 token 用量，最后按文本估算
func estimateCost(est TokenEstimator, option models.ModelOption, prompt, output string, res *InvokeResult) usage {
	u := usage{InputTokens: res.InputTokens, OutputTokens: res.OutputTokens}
	if u.InputTokens <= 0 && u.OutputTokens <= 0 {
		u.InputTokens = est.Estimate(option.ModelID, prompt)
		u.OutputTokens = est.Estimate(option.ModelID, output)
	}
	if res.Cost != nil {
		u.Cost = *res.Cost
		return u
	}
	u.Cost = float64(u.InputTokens+u.OutputTokens) * option.CostPer1KTokens / 1000
	return u
}
