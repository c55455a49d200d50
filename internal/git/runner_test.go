package git

import (
	"reflect"
	"testing"
)

func TestParseNumstat(t *testing.T) {
	out := "10\t2\tinternal/server/server.go\n" +
		"0\t5\tREADME.md\n" +
		"-\t-\tassets/logo.png\n"

	stats := parseNumstat(out)
	if stats.FilesChanged != 3 {
		t.Errorf("FilesChanged = %d, want 3", stats.FilesChanged)
	}
	// Binary files add no line counts.
	if stats.LinesChanged != 17 {
		t.Errorf("LinesChanged = %d, want 17", stats.LinesChanged)
	}
}

func TestParseNumstat_Empty(t *testing.T) {
	stats := parseNumstat("")
	if stats.FilesChanged != 0 || stats.LinesChanged != 0 {
		t.Errorf("empty diff = %+v, want zero stats", stats)
	}
}

func TestParseWorktreeList(t *testing.T) {
	out := "worktree /repo\n" +
		"HEAD aaaa1111\n" +
		"branch refs/heads/main\n" +
		"\n" +
		"worktree /repo/.conveyor/worktrees/pipeline-feature-x\n" +
		"HEAD bbbb2222\n" +
		"branch refs/heads/pipeline/feature-x\n" +
		"\n" +
		"worktree /repo/.conveyor/worktrees/detached\n" +
		"HEAD cccc3333\n" +
		"detached\n"

	got := parseWorktreeList(out)
	want := []Worktree{
		{Path: "/repo", HEAD: "aaaa1111", Branch: "main"},
		{Path: "/repo/.conveyor/worktrees/pipeline-feature-x", HEAD: "bbbb2222", Branch: "pipeline/feature-x"},
		{Path: "/repo/.conveyor/worktrees/detached", HEAD: "cccc3333"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseWorktreeList() = %+v, want %+v", got, want)
	}
}
