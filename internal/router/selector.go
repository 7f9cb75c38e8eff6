package router

import (
	"sort"

	"taskrouter/internal/models"
)

// BuildCandidates 生成有序候选列表：偏好集在前、备用集在后，各自按成本升序
// 偏好集为任务提示中的提供商（无提示时为全部），且满足 JSON 与质量要求。
// 排序稳定，同价候选保持注册表顺序。
func BuildCandidates(options []models.ModelOption, spec *models.TaskSpec, quality models.Quality, requiresJSON bool) []models.ModelOption {
	hinted := spec != nil && len(spec.ProviderHints) > 0

	var preferred, backup []models.ModelOption
	for _, o := range options {
		if !eligible(o, quality, requiresJSON) {
			continue
		}
		if !hinted || spec.HasHint(o.Provider) {
			preferred = append(preferred, o)
		} else {
			backup = append(backup, o)
		}
	}

	sortByCost(preferred)
	sortByCost(backup)

	out := make([]models.ModelOption, 0, len(preferred)+len(backup))
	out = append(out, preferred...)
	return append(out, backup...)
}

func eligible(o models.ModelOption, quality models.Quality, requiresJSON bool) bool {
	if requiresJSON && !o.SupportsJSON {
		return false
	}
	return o.Quality.Rank() >= quality.Rank()
}

func sortByCost(opts []models.ModelOption) {
	sort.SliceStable(opts, func(i, j int) bool {
		return opts[i].CostPer1KTokens < opts[j].CostPer1KTokens
	})
}
