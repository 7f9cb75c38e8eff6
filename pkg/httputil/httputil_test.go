package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient 测试创建基础客户端
func TestNewClient(t *testing.T) {
	client := NewClient()
	if client.timeout != 30*time.Second {
		t.Errorf("默认超时时间应为30秒，实际为 %v", client.timeout)
	}
	if client.headers["User-Agent"] != "taskrouter/1.0" {
		t.Errorf("默认User-Agent不正确: %s", client.headers["User-Agent"])
	}

	customClient := NewClient(
		WithTimeout(10*time.Second),
		WithHeaders(map[string]string{"X-Custom": "value"}),
		WithRetries(3),
	)
	if customClient.httpClient.Timeout != 10*time.Second {
		t.Errorf("自定义超时时间应为10秒，实际为 %v", customClient.httpClient.Timeout)
	}
	if customClient.headers["X-Custom"] != "value" {
		t.Errorf("自定义头未设置")
	}
	if customClient.retries != 3 {
		t.Errorf("重试次数应为3，实际为 %d", customClient.retries)
	}
}

// TestPostJSON 测试 JSON 请求与请求头
func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("单次请求头未设置")
		}
		if r.Header.Get("X-Default") != "d" {
			t.Errorf("默认请求头未设置")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": body["msg"]})
	}))
	defer server.Close()

	client := NewClient(WithHeaders(map[string]string{"X-Default": "d"}))
	var result map[string]string
	err := client.PostJSON(context.Background(), server.URL, map[string]string{"x-api-key": "secret"}, map[string]string{"msg": "hi"}, &result)
	if err != nil {
		t.Fatalf("PostJSON 失败: %v", err)
	}
	if result["echo"] != "hi" {
		t.Errorf("响应解析错误: %v", result)
	}
}

// TestPostJSONStatusError 测试非 2xx 返回 StatusError
func TestPostJSONStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate"}`))
	}))
	defer server.Close()

	err := NewClient().PostJSON(context.Background(), server.URL, nil, map[string]string{}, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("期望 StatusError，实际 %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || string(statusErr.Body) != `{"error":"rate"}` {
		t.Errorf("StatusError 内容错误: %d %s", statusErr.StatusCode, statusErr.Body)
	}
}

// TestRetryOn5xx 测试 5xx 重试并重放请求体
func TestRetryOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"n":1}` {
			t.Errorf("重试时请求体丢失: %q", body)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	err := NewClient(WithRetries(2)).PostJSON(context.Background(), server.URL, nil, map[string]int{"n": 1}, nil)
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("应请求3次，实际 %d", calls.Load())
	}
}

// TestNoRetryOn4xx 测试 4xx 不重试
func TestNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_ = NewClient(WithRetries(3)).PostJSON(context.Background(), server.URL, nil, map[string]int{}, nil)
	if calls.Load() != 1 {
		t.Errorf("4xx 不应重试，实际请求 %d 次", calls.Load())
	}
}
