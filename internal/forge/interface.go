// Package forge talks to the code host through the gh CLI.
package forge

import "context"

// CmdResult holds the output of a gh invocation.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner executes gh CLI commands.
type CommandRunner interface {
	Run(ctx context.Context, args []string, dir string) (*CmdResult, error)
}

// PR identifies a pull request on the code host.
type PR struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

// PRView holds the state of an existing pull request.
type PRView struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	State  string `json:"state"` // OPEN, CLOSED, MERGED
}

// PROptions describes the pull request to open.
type PROptions struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Client defines the forge operations the pipeline needs.
type Client interface {
	// CreatePR opens a pull request and returns its number and URL.
	CreatePR(ctx context.Context, opts PROptions) (*PR, error)
	// ViewPR returns the PR for a branch, or nil if none exists.
	ViewPR(ctx context.Context, branch string) (*PRView, error)
}
