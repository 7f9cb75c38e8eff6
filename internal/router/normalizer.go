package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// NormalizeResult 输出规整结果
type NormalizeResult struct {
	OK      bool
	Output  any
	Code    string
	Message string
}

// Normalize 将模型原始文本转换为结构化输出
// requiresJSON 为 false 时原样透传；为 true 时从文本中定位第一个 JSON 对象，
// 解析后按 schema 顶层做存在性与类型检查。不会 panic。
func Normalize(raw string, schema map[string]any, requiresJSON bool) (res NormalizeResult) {
	if !requiresJSON {
		return NormalizeResult{OK: true, Output: raw}
	}

	defer func() {
		if r := recover(); r != nil {
			res = parseFailure(fmt.Sprintf("规整输出时发生异常: %v", r))
		}
	}()

	candidate, ok := ExtractJSONObject(raw)
	if !ok {
		return parseFailure("输出中未找到 JSON 对象")
	}
	if !gjson.Valid(candidate) {
		return parseFailure("JSON 对象格式无效")
	}

	parsed := gjson.Parse(candidate)
	if !parsed.IsObject() {
		return parseFailure("输出不是 JSON 对象")
	}
	if msg := checkShape(parsed, schema); msg != "" {
		return parseFailure(msg)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return parseFailure("解析 JSON 失败: " + err.Error())
	}
	return NormalizeResult{OK: true, Output: out}
}

func parseFailure(msg string) NormalizeResult {
	return NormalizeResult{OK: false, Code: ReasonJSONParseFailure, Message: msg}
}

// ExtractJSONObject 去除代码块标记后，扫描第一个括号平衡的 JSON 对象
// 扫描感知字符串与转义，忽略前后说明文字。
func ExtractJSONObject(raw string) (string, bool) {
	text := stripCodeFence(raw)

	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchObject(text, start); ok {
			obj := text[start : end+1]
			if gjson.Valid(obj) {
				return obj, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchObject 返回与 start 处 '{' 匹配的 '}' 下标
func matchObject(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// stripCodeFence 移除 Markdown 代码块标记 (```json ... ```)
func stripCodeFence(input string) string {
	cleaned := strings.TrimSpace(input)
	open := strings.Index(cleaned, "```")
	if open < 0 {
		return cleaned
	}

	body := cleaned[open+3:]
	// 跳过语言标记行
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// checkShape 顶层检查：required 键必须存在，properties 声明的类型必须匹配
func checkShape(obj gjson.Result, schema map[string]any) string {
	if len(schema) == 0 {
		return ""
	}

	for _, key := range stringList(schema["required"]) {
		if !obj.Get(gjson.Escape(key)).Exists() {
			return fmt.Sprintf("缺少必需字段: %s", key)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for key, def := range props {
		field := obj.Get(gjson.Escape(key))
		if !field.Exists() {
			continue
		}
		defMap, _ := def.(map[string]any)
		types := stringList(defMap["type"])
		if len(types) > 0 && !anyTypeMatches(field, types) {
			return fmt.Sprintf("字段 %s 类型不匹配, 期望 %s", key, strings.Join(types, "|"))
		}
	}
	return ""
}

func anyTypeMatches(v gjson.Result, types []string) bool {
	for _, want := range types {
		if typeMatches(v, want) {
			return true
		}
	}
	return false
}

func typeMatches(v gjson.Result, want string) bool {
	switch want {
	case "string":
		return v.Type == gjson.String
	case "number":
		return v.Type == gjson.Number
	case "integer":
		return v.Type == gjson.Number && v.Num == float64(int64(v.Num))
	case "boolean":
		return v.IsBool()
	case "array":
		return v.IsArray()
	case "object":
		return v.IsObject()
	case "null":
		return v.Type == gjson.Null
	default:
		// 未知类型声明不做约束
		return true
	}
}

// stringList 兼容 []string / []any / string 三种写法
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
