package router

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"taskrouter/internal/models"
)

// 严格度等级
const (
	StrictnessNormal = 0
	StrictnessStrict = 1
	StrictnessMax    = 2
)

// PromptBuilder 根据任务规格与输入生成 system / user prompt
type PromptBuilder struct {
	mu        sync.Mutex
	templates map[string]*template.Template // key: taskID + 模板内容
}

// NewPromptBuilder 创建 prompt 构建器
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{templates: make(map[string]*template.Template)}
}

// promptData 模板变量
type promptData struct {
	Input     any
	InputJSON string
	Schema    string
}

// Build 渲染 prompt；strictness > 0 时追加更严格的 JSON 约束
func (b *PromptBuilder) Build(spec *models.TaskSpec, input any, schema map[string]any, strictness int) (string, string, error) {
	inputJSON, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("序列化任务输入失败: %w", err)
	}
	schemaJSON := ""
	if len(schema) > 0 {
		raw, err := json.Marshal(schema)
		if err != nil {
			return "", "", fmt.Errorf("序列化 schema 失败: %w", err)
		}
		schemaJSON = string(raw)
	}

	user := string(inputJSON)
	if spec.UserTemplate != "" {
		tmpl, err := b.template(spec)
		if err != nil {
			return "", "", err
		}
		var buf strings.Builder
		if err := tmpl.Execute(&buf, promptData{Input: input, InputJSON: string(inputJSON), Schema: schemaJSON}); err != nil {
			return "", "", fmt.Errorf("渲染任务模板失败: %w", err)
		}
		user = buf.String()
	}

	system := spec.SystemPrompt
	if spec.RequiresJSON {
		system = strings.TrimSpace(system + "\n\n" + jsonDirective(schemaJSON, strictness))
	}
	return system, user, nil
}

func (b *PromptBuilder) template(spec *models.TaskSpec) (*template.Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := spec.TaskID + "\x00" + spec.UserTemplate
	if t, ok := b.templates[key]; ok {
		return t, nil
	}
	t, err := template.New(spec.TaskID).Option("missingkey=zero").Parse(spec.UserTemplate)
	if err != nil {
		return nil, fmt.Errorf("解析任务模板失败: %w", err)
	}
	b.templates[key] = t
	return t, nil
}

// jsonDirective 按严格度生成 JSON 输出约束
func jsonDirective(schemaJSON string, strictness int) string {
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object.")
	if schemaJSON != "" {
		sb.WriteString(" It must conform to this JSON schema: ")
		sb.WriteString(schemaJSON)
	}
	if strictness >= StrictnessStrict {
		sb.WriteString("\nReturn ONLY the JSON object. Do not add explanations, markdown or code fences.")
	}
	if strictness >= StrictnessMax {
		sb.WriteString("\nYour previous answers could not be parsed. The first character of your reply must be '{' and the last must be '}'. Include every required field.")
	}
	return sb.String()
}

// StrictnessFor 第 attempt 次尝试（从 0 开始）对应的严格度
func StrictnessFor(attempt int) int {
	if attempt > StrictnessMax {
		return StrictnessMax
	}
	return attempt
}
