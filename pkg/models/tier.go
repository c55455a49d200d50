package models

// Tier classifies the size of the change a pipeline request carries.
type Tier string

const (
	// TierSmall is for focused changes within the small thresholds.
	TierSmall Tier = "small"
	// TierMedium is for mid-sized changes.
	TierMedium Tier = "medium"
	// TierLarge is for everything beyond the medium thresholds.
	TierLarge Tier = "large"
)

// Tiers returns all tiers in ascending size order.
func Tiers() []Tier {
	return []Tier{TierSmall, TierMedium, TierLarge}
}

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierSmall, TierMedium, TierLarge:
		return true
	default:
		return false
	}
}

// ParseTier converts a string to a Tier, reporting whether it is known.
func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	return t, t.Valid()
}

// ChangeStats summarises a diff relative to the base branch.
type ChangeStats struct {
	// FilesChanged is the number of files touched.
	FilesChanged int `json:"files_changed"`
	// LinesChanged is the total of added and deleted lines.
	LinesChanged int `json:"lines_changed"`
}
