// Package tasks 提供任务规格目录：内置任务与 YAML 覆盖文件
package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"taskrouter/internal/models"

	"gopkg.in/yaml.v3"
)

// Catalog 任务规格目录，并发安全
type Catalog struct {
	specs map[string]*models.TaskSpec
	mu    sync.RWMutex
}

// catalogFile 目录文件结构
type catalogFile struct {
	Tasks map[string]*models.TaskSpec `yaml:"tasks"`
}

// NewCatalog 创建空目录
func NewCatalog() *Catalog {
	return &Catalog{specs: make(map[string]*models.TaskSpec)}
}

// NewBuiltinCatalog 创建包含内置任务的目录
func NewBuiltinCatalog() *Catalog {
	c := NewCatalog()
	for _, spec := range builtinSpecs() {
		c.specs[spec.TaskID] = spec
	}
	return c
}

// GetSpec 查询任务规格
func (c *Catalog) GetSpec(task string) (*models.TaskSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.specs[task]
	return spec, ok
}

// Register 注册或覆盖任务规格
func (c *Catalog) Register(spec *models.TaskSpec) error {
	if err := Validate(spec); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.TaskID] = spec
	return nil
}

// List 按任务 ID 排序列出所有规格
func (c *Catalog) List() []*models.TaskSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.TaskSpec, 0, len(c.specs))
	for _, spec := range c.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// LoadFile 从 YAML 文件加载任务，同名任务覆盖已有定义
// 文件中任何一个任务无效时整体不生效。
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("读取任务目录文件失败: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("解析任务目录失败: %w", err)
	}

	for key, spec := range file.Tasks {
		if spec == nil {
			return 0, fmt.Errorf("任务 %s 定义为空", key)
		}
		if spec.TaskID == "" {
			spec.TaskID = key
		}
		if spec.TaskID != key {
			return 0, fmt.Errorf("任务键 %s 与 task_id %s 不一致", key, spec.TaskID)
		}
		if err := Validate(spec); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, spec := range file.Tasks {
		c.specs[spec.TaskID] = spec
	}
	return len(file.Tasks), nil
}

// LoadDirectory 加载目录下所有 *.yaml 文件
func (c *Catalog) LoadDirectory(dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return 0, fmt.Errorf("遍历任务目录失败: %w", err)
	}
	sort.Strings(files)

	total := 0
	for _, file := range files {
		n, err := c.LoadFile(file)
		if err != nil {
			return total, fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
		total += n
	}
	return total, nil
}

// Validate 校验任务规格
func Validate(spec *models.TaskSpec) error {
	if spec == nil || spec.TaskID == "" {
		return fmt.Errorf("任务 ID 不能为空")
	}
	if spec.PreferredQualityDefault == "" {
		spec.PreferredQualityDefault = models.QualityStandard
	}
	if !spec.PreferredQualityDefault.Valid() {
		return fmt.Errorf("任务 %s 的默认质量无效: %s", spec.TaskID, spec.PreferredQualityDefault)
	}
	for _, p := range spec.ProviderHints {
		if !p.Valid() {
			return fmt.Errorf("任务 %s 的提供商提示无效: %s", spec.TaskID, p)
		}
	}
	if spec.CacheTTLSeconds != nil && *spec.CacheTTLSeconds < 0 {
		return fmt.Errorf("任务 %s 的缓存 TTL 不能为负", spec.TaskID)
	}
	if spec.MaxTokensHint != nil && *spec.MaxTokensHint <= 0 {
		return fmt.Errorf("任务 %s 的 max_tokens_hint 必须为正", spec.TaskID)
	}
	return nil
}
