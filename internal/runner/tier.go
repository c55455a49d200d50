package runner

import (
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/pkg/models"
)

// classifyTier walks the threshold chain. A change equal to a tier's
// bounds stays in that tier; exceeding either bound moves it up. Large
// is unbounded.
func classifyTier(stats models.ChangeStats, tiers *config.TiersConfig) models.Tier {
	if stats.FilesChanged <= tiers.Small.MaxFiles && stats.LinesChanged <= tiers.Small.MaxLines {
		return models.TierSmall
	}
	if stats.FilesChanged <= tiers.Medium.MaxFiles && stats.LinesChanged <= tiers.Medium.MaxLines {
		return models.TierMedium
	}
	return models.TierLarge
}
