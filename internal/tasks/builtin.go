package tasks

import "taskrouter/internal/models"

func intPtr(v int) *int { return &v }

// builtinSpecs 内置任务
func builtinSpecs() []*models.TaskSpec {
	return []*models.TaskSpec{
		{
			TaskID:                  "resume_extract",
			Description:             "Extract structured fields from a résumé",
			RequiresJSON:            true,
			PreferredQualityDefault: models.QualityStandard,
			CacheTTLSeconds:         intPtr(86400),
			MaxTokensHint:           intPtr(2048),
			ProviderHints:           []models.Provider{models.ProviderDeepSeek, models.ProviderOpenAI},
			SystemPrompt:            "You extract structured data from résumés. Use null for fields that are not present. Never invent facts.",
			UserTemplate:            "Résumé text:\n{{.Input.text}}",
			JSONSchema: map[string]any{
				"type":     "object",
				"required": []any{"name", "skills", "experience"},
				"properties": map[string]any{
					"name":       map[string]any{"type": []any{"string", "null"}},
					"email":      map[string]any{"type": []any{"string", "null"}},
					"phone":      map[string]any{"type": []any{"string", "null"}},
					"summary":    map[string]any{"type": []any{"string", "null"}},
					"skills":     map[string]any{"type": "array"},
					"experience": map[string]any{"type": "array"},
					"education":  map[string]any{"type": "array"},
				},
			},
		},
		{
			TaskID:                  "job_match",
			Description:             "Score how well a résumé matches a job description",
			RequiresJSON:            true,
			PreferredQualityDefault: models.QualityStandard,
			CacheTTLSeconds:         intPtr(3600),
			MaxTokensHint:           intPtr(1024),
			ProviderHints:           []models.Provider{models.ProviderOpenAI, models.ProviderQwen},
			SystemPrompt:            "You are a recruiter. Compare the candidate with the job and score the fit from 0 to 100.",
			UserTemplate:            "Job description:\n{{.Input.job}}\n\nCandidate résumé:\n{{.Input.resume}}",
			JSONSchema: map[string]any{
				"type":     "object",
				"required": []any{"score", "strengths", "gaps"},
				"properties": map[string]any{
					"score":     map[string]any{"type": "number"},
					"strengths": map[string]any{"type": "array"},
					"gaps":      map[string]any{"type": "array"},
					"verdict":   map[string]any{"type": "string"},
				},
			},
		},
		{
			TaskID:                  "cover_letter",
			Description:             "Draft a cover letter for a job application",
			RequiresJSON:            false,
			PreferredQualityDefault: models.QualityHigh,
			MaxTokensHint:           intPtr(1500),
			ProviderHints:           []models.Provider{models.ProviderAnthropic, models.ProviderOpenAI},
			SystemPrompt:            "You write concise, specific cover letters in plain text. No placeholders.",
			UserTemplate:            "Job description:\n{{.Input.job}}\n\nCandidate résumé:\n{{.Input.resume}}\n\nTone: {{.Input.tone}}",
		},
		{
			TaskID:                  "summarize",
			Description:             "Summarize free text in a few sentences",
			RequiresJSON:            false,
			PreferredQualityDefault: models.QualityLow,
			CacheTTLSeconds:         intPtr(600),
			MaxTokensHint:           intPtr(512),
			SystemPrompt:            "Summarize the text in at most five sentences.",
			UserTemplate:            "{{.Input.text}}",
		},
	}
}
