package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client HTTP客户端包装器，提供便利的请求方法
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
	retries    int
}

// ClientOption 客户端配置选项
type ClientOption func(*Client)

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithHeaders 设置默认请求头
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithRetries 设置 5xx/网络错误的重试次数
func WithRetries(retries int) ClientOption {
	return func(c *Client) {
		c.retries = retries
	}
}

// NewClient 创建HTTP客户端
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout: 30 * time.Second,
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(client)
	}

	if _, ok := client.headers["User-Agent"]; !ok {
		client.headers["User-Agent"] = "taskrouter/1.0"
	}

	return client
}

// SetHeader 设置单个请求头
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP请求返回错误状态: %d", e.StatusCode)
}

// Do 执行HTTP请求，5xx 与网络错误按配置重试
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.applyHeaders(req)

	var resp *http.Response
	var err error

	for i := 0; i <= c.retries; i++ {
		if i > 0 {
			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, fmt.Errorf("重置请求体失败: %w", bodyErr)
				}
				req.Body = body
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * 100 * time.Millisecond):
			}
		}

		resp, err = c.httpClient.Do(req.WithContext(ctx))
		if err == nil && resp.StatusCode < 500 {
			break
		}
		if err == nil && i < c.retries {
			_ = resp.Body.Close()
		}
	}

	return resp, err
}

// Post 发送POST请求
func (c *Client) Post(ctx context.Context, url string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("创建POST请求失败: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req)
}

// PostJSON 发送 JSON POST 请求并解析 JSON 响应，headers 为单次请求附加头
// 非 2xx 时返回 *StatusError
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body any, result any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("创建POST请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("POST请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("解析JSON响应失败: %w", err)
	}
	return nil
}

// Close 释放空闲连接
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
