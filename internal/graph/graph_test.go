package graph

import (
	"reflect"
	"testing"
	"time"

	"github.com/mood-agency/funny-sub004/internal/manifest"
)

func entry(branch string, deps ...string) manifest.ReadyEntry {
	return manifest.ReadyEntry{
		Branch:    branch,
		ReadyAt:   time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		DependsOn: deps,
	}
}

func branches(entries []manifest.ReadyEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Branch)
	}
	return out
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name    string
		entries []manifest.ReadyEntry
		merged  map[string]bool
		want    []string
	}{
		{
			name:    "no dependencies",
			entries: []manifest.ReadyEntry{entry("a"), entry("b")},
			want:    []string{"a", "b"},
		},
		{
			name:    "merged dependency is satisfied",
			entries: []manifest.ReadyEntry{entry("a", "base")},
			merged:  map[string]bool{"base": true},
			want:    []string{"a"},
		},
		{
			name:    "queued dependency blocks",
			entries: []manifest.ReadyEntry{entry("a", "b"), entry("b")},
			want:    []string{"b"},
		},
		{
			name:    "unknown dependency blocks",
			entries: []manifest.ReadyEntry{entry("a", "ghost")},
			want:    nil,
		},
		{
			name:    "mixed dependencies need all merged",
			entries: []manifest.ReadyEntry{entry("a", "base", "b"), entry("b")},
			merged:  map[string]bool{"base": true},
			want:    []string{"b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := branches(Build(tt.entries, tt.merged).Eligible())
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStalled(t *testing.T) {
	tests := []struct {
		name    string
		entries []manifest.ReadyEntry
		merged  map[string]bool
		want    [][]string
	}{
		{
			name:    "no cycle",
			entries: []manifest.ReadyEntry{entry("a", "b"), entry("b")},
			want:    nil,
		},
		{
			name:    "two branch cycle",
			entries: []manifest.ReadyEntry{entry("a", "b"), entry("b", "a")},
			want:    [][]string{{"a", "b"}},
		},
		{
			name:    "self dependency",
			entries: []manifest.ReadyEntry{entry("a", "a")},
			want:    [][]string{{"a"}},
		},
		{
			name: "three branch cycle reported once",
			entries: []manifest.ReadyEntry{
				entry("b", "c"), entry("c", "a"), entry("a", "b"),
			},
			want: [][]string{{"a", "b", "c"}},
		},
		{
			name: "chain through merged branch is not a cycle",
			entries: []manifest.ReadyEntry{
				entry("a", "base"), entry("b", "a"),
			},
			merged: map[string]bool{"base": true},
			want:   nil,
		},
		{
			name: "cycle beside healthy entries",
			entries: []manifest.ReadyEntry{
				entry("x"), entry("a", "b"), entry("b", "a"),
			},
			want: [][]string{{"a", "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.entries, tt.merged).Stalled()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Stalled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnresolved(t *testing.T) {
	q := Build([]manifest.ReadyEntry{
		entry("a", "ghost", "b"),
		entry("b", "base"),
	}, map[string]bool{"base": true})

	want := map[string][]string{"a": {"ghost"}}
	if got := q.Unresolved(); !reflect.DeepEqual(got, want) {
		t.Errorf("Unresolved() = %v, want %v", got, want)
	}
}
