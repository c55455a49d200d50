package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateProjectConfig(t *testing.T) {
	dir := t.TempDir()

	created, err := createProjectConfig(dir)
	if err != nil {
		t.Fatalf("createProjectConfig() error: %v", err)
	}
	if !created {
		t.Fatal("createProjectConfig() = false on fresh directory, want true")
	}

	data, err := os.ReadFile(filepath.Join(dir, ".conveyor.yaml"))
	if err != nil {
		t.Fatalf("reading template: %v", err)
	}
	for _, want := range []string{"# tiers:", "# branch:", "# adapters:"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("template missing %q", want)
		}
	}

	// Second call leaves an existing config alone.
	if err := os.WriteFile(filepath.Join(dir, ".conveyor.yaml"), []byte("branch:\n  main: trunk\n"), 0644); err != nil {
		t.Fatal(err)
	}
	created, err = createProjectConfig(dir)
	if err != nil {
		t.Fatalf("createProjectConfig() second call error: %v", err)
	}
	if created {
		t.Error("createProjectConfig() = true on existing config, want false")
	}
	data, _ = os.ReadFile(filepath.Join(dir, ".conveyor.yaml"))
	if !strings.Contains(string(data), "trunk") {
		t.Error("existing config was overwritten")
	}
}

func TestUpdateGitignore(t *testing.T) {
	tests := []struct {
		name     string
		existing string
	}{
		{"no gitignore", ""},
		{"existing without trailing newline", "node_modules/\ndist"},
		{"existing with conveyor dir only", ".conveyor/\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, ".gitignore")
			if tt.existing != "" {
				if err := os.WriteFile(path, []byte(tt.existing), 0644); err != nil {
					t.Fatal(err)
				}
			}

			if err := updateGitignore(dir); err != nil {
				t.Fatalf("updateGitignore() error: %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("reading gitignore: %v", err)
			}
			content := string(data)
			if !strings.Contains(content, ".conveyor/") {
				t.Error("gitignore missing .conveyor/ entry")
			}
			if !strings.Contains(content, "conveyor") {
				t.Error("gitignore missing conveyor entry")
			}
			if tt.existing != "" && !strings.Contains(content, strings.TrimSuffix(tt.existing, "\n")) {
				t.Error("existing entries were lost")
			}
		})
	}
}

func TestUpdateGitignoreIdempotent(t *testing.T) {
	dir := t.TempDir()

	if err := updateGitignore(dir); err != nil {
		t.Fatalf("first updateGitignore() error: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatal(err)
	}

	if err := updateGitignore(dir); err != nil {
		t.Fatalf("second updateGitignore() error: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Errorf("updateGitignore is not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}
