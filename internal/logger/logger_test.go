package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsTraceID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	ctx := WithTraceID(context.Background(), "trace-1")
	if got := GetTraceID(ctx); got != "trace-1" {
		t.Fatalf("GetTraceID = %q", got)
	}

	WithContext(ctx).Info("路由完成")
	Named("router").Warn("熔断打开")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("期望 2 条日志，实际 %d", len(entries))
	}
	if entries[0].ContextMap()["trace_id"] != "trace-1" {
		t.Errorf("缺少 trace_id: %v", entries[0].ContextMap())
	}
	if entries[1].LoggerName != "router" {
		t.Errorf("LoggerName = %q", entries[1].LoggerName)
	}
}

func TestGetWithoutInitIsNop(t *testing.T) {
	Set(nil)
	if Get() == nil {
		t.Fatal("未初始化时应返回 Nop logger")
	}
	if GetTraceID(context.Background()) != "" {
		t.Error("空上下文不应有 trace_id")
	}
}

func TestInitWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init("debug", "json", path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { Set(nil) })

	Info("启动", zap.String("env", "test"))
	_ = Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), `"env":"test"`) {
		t.Errorf("日志内容不符: %s", data)
	}
}

func TestInitBadPath(t *testing.T) {
	if err := Init("info", "console", filepath.Join(t.TempDir(), "missing", "app.log")); err == nil {
		t.Fatal("期望打开日志文件失败")
	}
}
