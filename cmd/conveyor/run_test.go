package main

import (
	"strings"
	"testing"

	"github.com/mood-agency/funny-sub004/internal/bus"
)

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{
			name:  "empty",
			pairs: nil,
			want:  map[string]any{},
		},
		{
			name:  "single pair",
			pairs: []string{"team=infra"},
			want:  map[string]any{"team": "infra"},
		},
		{
			name:  "value containing equals",
			pairs: []string{"query=a=b"},
			want:  map[string]any{"query": "a=b"},
		},
		{
			name:  "multiple pairs",
			pairs: []string{"team=infra", "ticket=CONV-41"},
			want:  map[string]any{"team": "infra", "ticket": "CONV-41"},
		},
		{
			name:    "missing separator",
			pairs:   []string{"team"},
			wantErr: true,
		},
		{
			name:    "empty key",
			pairs:   []string{"=infra"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMetadata(tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMetadata(%v) expected error, got %v", tt.pairs, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMetadata(%v) error: %v", tt.pairs, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseMetadata(%v) = %v, want %v", tt.pairs, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseMetadata(%v)[%q] = %v, want %v", tt.pairs, k, got[k], v)
				}
			}
		})
	}
}

func TestStatePath(t *testing.T) {
	tests := []struct {
		name     string
		repoPath string
		p        string
		want     string
	}{
		{"relative joins repo", "/repo", ".conveyor/events.ndjson", "/repo/.conveyor/events.ndjson"},
		{"absolute passes through", "/repo", "/var/log/conveyor.ndjson", "/var/log/conveyor.ndjson"},
		{"empty stays empty", "/repo", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statePath(tt.repoPath, tt.p); got != tt.want {
				t.Errorf("statePath(%q, %q) = %q, want %q", tt.repoPath, tt.p, got, tt.want)
			}
		})
	}
}

func TestReportOutcome(t *testing.T) {
	tests := []struct {
		name    string
		ev      bus.Event
		wantErr string
	}{
		{
			name: "completed is success",
			ev: bus.Event{Type: bus.EventPipelineCompleted, Data: map[string]any{
				"pipeline_branch": "pipeline/feature/x",
				"result":          "all agents approved",
				"tier":            "medium",
			}},
		},
		{
			name:    "stopped is an error",
			ev:      bus.Event{Type: bus.EventPipelineStopped, Data: map[string]any{"reason": "stopped by request"}},
			wantErr: "stopped",
		},
		{
			name: "infrastructure failure reports the error",
			ev: bus.Event{Type: bus.EventPipelineFailed, Data: map[string]any{
				"error": "Agent process exited unexpectedly",
			}},
			wantErr: "Agent process exited unexpectedly",
		},
		{
			name: "agent failure reports the errors text",
			ev: bus.Event{Type: bus.EventPipelineFailed, Data: map[string]any{
				"errors": "tester reported 2 failing checks",
				"result": "tester reported 2 failing checks",
			}},
			wantErr: "tester reported 2 failing checks",
		},
		{
			name:    "failure without detail still fails",
			ev:      bus.Event{Type: bus.EventPipelineFailed},
			wantErr: "pipeline failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reportOutcome(tt.ev)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("reportOutcome() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("reportOutcome() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("reportOutcome() error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDataStr(t *testing.T) {
	d := map[string]any{"branch": "feature/x", "count": 3}
	if got := dataStr(d, "branch"); got != "feature/x" {
		t.Errorf("dataStr(branch) = %q, want feature/x", got)
	}
	if got := dataStr(d, "count"); got != "" {
		t.Errorf("dataStr on non-string = %q, want empty", got)
	}
	if got := dataStr(nil, "branch"); got != "" {
		t.Errorf("dataStr on nil map = %q, want empty", got)
	}
}
