package models

import "testing"

func TestTier_Valid(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		want bool
	}{
		{"small is valid", TierSmall, true},
		{"medium is valid", TierMedium, true},
		{"large is valid", TierLarge, true},
		{"empty string is invalid", Tier(""), false},
		{"unknown tier is invalid", Tier("huge"), false},
		{"uppercase is invalid", Tier("SMALL"), false},
		{"mixed case is invalid", Tier("Small"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.Valid(); got != tt.want {
				t.Errorf("Tier(%q).Valid() = %v, want %v", tt.tier, got, tt.want)
			}
		})
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in     string
		want   Tier
		wantOK bool
	}{
		{"small", TierSmall, true},
		{"medium", TierMedium, true},
		{"large", TierLarge, true},
		{"", Tier(""), false},
		{"big", Tier("big"), false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTier(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseTier(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTiers_Order(t *testing.T) {
	tiers := Tiers()
	want := []Tier{TierSmall, TierMedium, TierLarge}

	if len(tiers) != len(want) {
		t.Fatalf("Tiers() returned %d tiers, want %d", len(tiers), len(want))
	}
	for i, tier := range tiers {
		if tier != want[i] {
			t.Errorf("Tiers()[%d] = %q, want %q", i, tier, want[i])
		}
	}
}
