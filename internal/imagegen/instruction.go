package imagegen

import (
	"strings"

	"toonify/internal/domain"
)

const baseInstruction = "Transform this photo into a Studio Ghibli style cartoon. Keep the same composition but make it look hand-drawn."

const premiumDetail = "Render fine line work, rich background detail and soft painterly lighting at the highest quality."

// StyleInstruction returns the stylization prompt for a quality tier.
func StyleInstruction(tier domain.QualityTier) string {
	parts := []string{baseInstruction}
	if tier == domain.QualityPremium {
		parts = append(parts, premiumDetail)
	}
	return strings.Join(parts, " ")
}
