package router

import (
	"testing"

	"taskrouter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectorOptions() []models.ModelOption {
	return []models.ModelOption{
		{Provider: models.ProviderOpenAI, ModelID: "oa-std", Quality: models.QualityStandard, SupportsJSON: true, MaxTokens: 1000, CostPer1KTokens: 0.5},
		{Provider: models.ProviderDeepSeek, ModelID: "ds-std", Quality: models.QualityStandard, SupportsJSON: true, MaxTokens: 1000, CostPer1KTokens: 0.2},
		{Provider: models.ProviderQwen, ModelID: "qw-low", Quality: models.QualityLow, SupportsJSON: true, MaxTokens: 1000, CostPer1KTokens: 0.1},
		{Provider: models.ProviderAnthropic, ModelID: "an-high", Quality: models.QualityHigh, SupportsJSON: true, MaxTokens: 1000, CostPer1KTokens: 1.0},
		{Provider: models.ProviderAnthropic, ModelID: "an-std-text", Quality: models.QualityStandard, SupportsJSON: false, MaxTokens: 1000, CostPer1KTokens: 0.05},
	}
}

func modelIDs(opts []models.ModelOption) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.ModelID
	}
	return out
}

func TestBuildCandidatesPreferredThenBackup(t *testing.T) {
	spec := &models.TaskSpec{TaskID: "t", ProviderHints: []models.Provider{models.ProviderOpenAI, models.ProviderAnthropic}}

	got := BuildCandidates(selectorOptions(), spec, models.QualityStandard, true)
	assert.Equal(t, []string{"oa-std", "an-high", "ds-std"}, modelIDs(got))
}

func TestBuildCandidatesWithoutHintsSortsByCost(t *testing.T) {
	spec := &models.TaskSpec{TaskID: "t"}

	got := BuildCandidates(selectorOptions(), spec, models.QualityLow, false)
	assert.Equal(t, []string{"an-std-text", "qw-low", "ds-std", "oa-std", "an-high"}, modelIDs(got))
}

func TestBuildCandidatesDeterministic(t *testing.T) {
	spec := &models.TaskSpec{TaskID: "t", ProviderHints: []models.Provider{models.ProviderDeepSeek}}
	first := BuildCandidates(selectorOptions(), spec, models.QualityStandard, true)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildCandidates(selectorOptions(), spec, models.QualityStandard, true))
	}

	// 偏好集与备用集内部成本非递减
	var preferred, backup []models.ModelOption
	for _, o := range first {
		if spec.HasHint(o.Provider) {
			preferred = append(preferred, o)
		} else {
			backup = append(backup, o)
		}
	}
	for _, part := range [][]models.ModelOption{preferred, backup} {
		for i := 1; i < len(part); i++ {
			assert.LessOrEqual(t, part[i-1].CostPer1KTokens, part[i].CostPer1KTokens)
		}
	}
}

func TestBuildCandidatesStableTies(t *testing.T) {
	opts := []models.ModelOption{
		{Provider: models.ProviderQwen, ModelID: "first", Quality: models.QualityStandard, CostPer1KTokens: 0.3},
		{Provider: models.ProviderOpenAI, ModelID: "second", Quality: models.QualityStandard, CostPer1KTokens: 0.3},
		{Provider: models.ProviderDeepSeek, ModelID: "third", Quality: models.QualityStandard, CostPer1KTokens: 0.3},
	}
	got := BuildCandidates(opts, &models.TaskSpec{}, models.QualityStandard, false)
	assert.Equal(t, []string{"first", "second", "third"}, modelIDs(got))
}

func TestBuildCandidatesQualityAndJSONFilters(t *testing.T) {
	got := BuildCandidates(selectorOptions(), &models.TaskSpec{}, models.QualityHigh, true)
	require.Len(t, got, 1)
	assert.Equal(t, "an-high", got[0].ModelID)

	textOnly := []models.ModelOption{
		{Provider: models.ProviderAnthropic, ModelID: "text", Quality: models.QualityHigh, SupportsJSON: false},
	}
	assert.Empty(t, BuildCandidates(textOnly, &models.TaskSpec{}, models.QualityHigh, true))
}
