package gemini

import (
	"github.com/mixaill76/key_rotator/internal/models"
	"google.golang.org/genai"
)

// UsageFromMetadata converts upstream usage metadata to ledger token counts.
// Thinking tokens are counted as completion tokens. Returns nil for nil input.
func UsageFromMetadata(meta *genai.GenerateContentResponseUsageMetadata) *models.TokenUsage {
	if meta == nil {
		return nil
	}

	prompt := int(meta.PromptTokenCount + meta.ToolUsePromptTokenCount)
	completion := int(meta.CandidatesTokenCount)
	if meta.ThoughtsTokenCount > 0 {
		completion += int(meta.ThoughtsTokenCount)
	}

	total := int(meta.TotalTokenCount)
	if total == 0 {
		total = prompt + completion
	}

	return &models.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}
