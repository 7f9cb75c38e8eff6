package ai

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CredentialProvider 凭证提供者接口，允许接入外部密钥服务
type CredentialProvider interface {
	Get(key string) (string, error)
}

// EnvCredentialProvider 默认实现：从环境变量读取凭证
type EnvCredentialProvider struct{}

// Get 按键名读取环境变量并返回修剪后的值
func (EnvCredentialProvider) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("凭证键名不能为空")
	}
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("环境变量 %s 未设置", key)
	}
	return strings.TrimSpace(value), nil
}

// FileCredentialProvider 从密钥目录读取凭证，文件不存在时回退到环境变量
type FileCredentialProvider struct {
	dir      string
	fallback CredentialProvider
}

// NewFileCredentialProvider 创建文件凭证提供者
func NewFileCredentialProvider(dir string) *FileCredentialProvider {
	return &FileCredentialProvider{dir: dir, fallback: EnvCredentialProvider{}}
}

// Get 读取 <dir>/<key>，键名不得包含路径分隔符
func (p *FileCredentialProvider) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("凭证键名不能为空")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("非法凭证键名: %s", key)
	}

	data, err := os.ReadFile(filepath.Join(p.dir, key))
	if err == nil {
		if value := strings.TrimSpace(string(data)); value != "" {
			return value, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("读取密钥文件 %s 失败: %w", key, err)
	}
	return p.fallback.Get(key)
}

var (
	credentialProvider CredentialProvider = EnvCredentialProvider{}
	credentialMu       sync.RWMutex
)

// RegisterCredentialProvider 注册自定义凭证提供者，nil 回退到环境变量实现
func RegisterCredentialProvider(provider CredentialProvider) {
	credentialMu.Lock()
	defer credentialMu.Unlock()
	if provider == nil {
		credentialProvider = EnvCredentialProvider{}
		return
	}
	credentialProvider = provider
}

// resolveAPIKey 解析 API Key：显式配置 > 配置的键名 > 提供商默认环境变量
func resolveAPIKey(settings ProviderSettings, defaultEnv string) string {
	if key := strings.TrimSpace(settings.APIKey); key != "" {
		return key
	}
	for _, name := range []string{settings.APIKeyEnv, defaultEnv} {
		if val := lookupCredential(name); val != "" {
			return val
		}
	}
	return ""
}

func lookupCredential(name string) string {
	if name == "" {
		return ""
	}

	credentialMu.RLock()
	provider := credentialProvider
	credentialMu.RUnlock()

	if val, err := provider.Get(name); err == nil {
		return strings.TrimSpace(val)
	}
	return ""
}
