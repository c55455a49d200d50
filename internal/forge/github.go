package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mood-agency/funny-sub004/internal/errkind"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// Run executes a gh command.
func (r *ExecRunner) Run(ctx context.Context, args []string, dir string) (*CmdResult, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	stdout, err := cmd.Output()
	result := &CmdResult{
		Stdout: string(stdout),
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.Stderr = string(exitErr.Stderr)
		result.ExitCode = exitErr.ExitCode()
		return result, err
	}

	return result, err
}

// GitHub implements Client against GitHub using the gh CLI.
type GitHub struct {
	runner CommandRunner
	dir    string
}

// NewGitHub creates a GitHub client operating in the given repository directory.
func NewGitHub(runner CommandRunner, dir string) *GitHub {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &GitHub{runner: runner, dir: dir}
}

// CreatePR opens a pull request and returns its number and URL.
// gh pr create does not emit JSON, so this goes through the REST endpoint.
func (g *GitHub) CreatePR(ctx context.Context, opts PROptions) (*PR, error) {
	args := []string{
		"api", "repos/{owner}/{repo}/pulls",
		"-f", "title=" + opts.Title,
		"-f", "body=" + opts.Body,
		"-f", "head=" + opts.Head,
		"-f", "base=" + opts.Base,
	}

	result, err := g.runner.Run(ctx, args, g.dir)
	if err != nil {
		if result != nil && result.Stderr != "" {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(result.Stderr))
		}
		return nil, errkind.E(errkind.Transient, "forge.create_pr", err)
	}

	var pr PR
	if err := json.Unmarshal([]byte(result.Stdout), &pr); err != nil {
		return nil, errkind.E(errkind.Transient, "forge.create_pr",
			fmt.Errorf("parse gh response: %w", err))
	}
	return &pr, nil
}

// ViewPR returns the PR for a branch, or nil if none exists.
func (g *GitHub) ViewPR(ctx context.Context, branch string) (*PRView, error) {
	args := []string{
		"pr", "view", branch,
		"--json", "number,url,state",
	}

	result, err := g.runner.Run(ctx, args, g.dir)
	if err != nil {
		if result != nil && strings.Contains(result.Stderr, "no pull requests found") {
			return nil, nil
		}
		if result != nil && result.Stderr != "" {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(result.Stderr))
		}
		return nil, errkind.E(errkind.Transient, "forge.view_pr", err)
	}

	var view PRView
	if err := json.Unmarshal([]byte(result.Stdout), &view); err != nil {
		return nil, errkind.E(errkind.Transient, "forge.view_pr",
			fmt.Errorf("parse gh response: %w", err))
	}
	return &view, nil
}

// Verify GitHub implements Client at compile time.
var _ Client = (*GitHub)(nil)
