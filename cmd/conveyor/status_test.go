package main

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"seconds", 45 * time.Second, "45s"},
		{"zero", 0, "0s"},
		{"minutes", 3 * time.Minute, "3m"},
		{"minutes truncate seconds", 3*time.Minute + 40*time.Second, "3m"},
		{"exact hour", time.Hour, "1h"},
		{"hours and minutes", 2*time.Hour + 15*time.Minute, "2h15m"},
		{"days", 49 * time.Hour, "2d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestShortSHA(t *testing.T) {
	tests := []struct {
		name string
		sha  string
		want string
	}{
		{"full sha", "aa52cf1fbb05d7e0ab5ff342fba86338c1e18b38", "aa52cf1"},
		{"already short", "aa52cf1", "aa52cf1"},
		{"shorter than seven", "aa52", "aa52"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shortSHA(tt.sha); got != tt.want {
				t.Errorf("shortSHA(%q) = %q, want %q", tt.sha, got, tt.want)
			}
		})
	}
}
