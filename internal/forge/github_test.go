package forge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mood-agency/funny-sub004/internal/errkind"
)

// mockRunner implements CommandRunner for testing.
type mockRunner struct {
	result *CmdResult
	err    error
	calls  [][]string
}

func (m *mockRunner) Run(ctx context.Context, args []string, dir string) (*CmdResult, error) {
	m.calls = append(m.calls, args)
	return m.result, m.err
}

func TestGitHub_CreatePR(t *testing.T) {
	mock := &mockRunner{
		result: &CmdResult{
			Stdout: `{"number": 123, "html_url": "https://github.com/org/repo/pull/123"}`,
		},
	}
	gh := NewGitHub(mock, "/repo")

	pr, err := gh.CreatePR(context.Background(), PROptions{
		Title: "Integrate pipeline/feature-x",
		Body:  "Automated integration",
		Head:  "integration/feature-x",
		Base:  "main",
	})
	if err != nil {
		t.Fatalf("CreatePR() = %v", err)
	}

	if pr.Number != 123 {
		t.Errorf("Number = %d, want 123", pr.Number)
	}
	if pr.URL != "https://github.com/org/repo/pull/123" {
		t.Errorf("URL = %q", pr.URL)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 gh call, got %d", len(mock.calls))
	}
	argsStr := strings.Join(mock.calls[0], " ")
	if !strings.Contains(argsStr, "api repos/{owner}/{repo}/pulls") {
		t.Errorf("expected REST endpoint call, got %s", argsStr)
	}
	if !strings.Contains(argsStr, "head=integration/feature-x") {
		t.Errorf("expected head ref in args: %s", argsStr)
	}
	if !strings.Contains(argsStr, "base=main") {
		t.Errorf("expected base ref in args: %s", argsStr)
	}
}

func TestGitHub_CreatePR_Error(t *testing.T) {
	mock := &mockRunner{
		result: &CmdResult{Stderr: "HTTP 422: Validation Failed", ExitCode: 1},
		err:    errors.New("exit status 1"),
	}
	gh := NewGitHub(mock, "/repo")

	_, err := gh.CreatePR(context.Background(), PROptions{Head: "x", Base: "main"})
	if err == nil {
		t.Fatal("CreatePR() = nil, want error")
	}
	if !errkind.Is(err, errkind.Transient) {
		t.Errorf("error kind = %v, want transient", errkind.KindOf(err))
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("error should carry stderr detail: %v", err)
	}
}

func TestGitHub_ViewPR(t *testing.T) {
	mock := &mockRunner{
		result: &CmdResult{
			Stdout: `{"number": 10, "url": "https://github.com/org/repo/pull/10", "state": "MERGED"}`,
		},
	}
	gh := NewGitHub(mock, "/repo")

	view, err := gh.ViewPR(context.Background(), "integration/feature-x")
	if err != nil {
		t.Fatalf("ViewPR() = %v", err)
	}
	if view.Number != 10 || view.State != "MERGED" {
		t.Errorf("ViewPR() = %+v, want merged PR 10", view)
	}
}

func TestGitHub_ViewPR_NoneFound(t *testing.T) {
	mock := &mockRunner{
		result: &CmdResult{Stderr: "no pull requests found for branch \"integration/x\"", ExitCode: 1},
		err:    errors.New("exit status 1"),
	}
	gh := NewGitHub(mock, "/repo")

	view, err := gh.ViewPR(context.Background(), "integration/x")
	if err != nil {
		t.Fatalf("ViewPR() = %v, want nil error when no PR exists", err)
	}
	if view != nil {
		t.Errorf("ViewPR() = %+v, want nil", view)
	}
}
