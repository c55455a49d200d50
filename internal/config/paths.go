package config

import "path/filepath"

// StateDirName is the per-project runtime state directory.
const StateDirName = ".conveyor"

// StateDir returns the runtime state directory for a project.
func StateDir(projectPath string) string {
	return filepath.Join(projectPath, StateDirName)
}

// ManifestPath returns the branch-lifecycle manifest file for a project.
func ManifestPath(projectPath string) string {
	return filepath.Join(StateDir(projectPath), "manifest.json")
}

// ActivePipelinesPath returns the idempotency persistence file for a project.
func ActivePipelinesPath(projectPath string) string {
	return filepath.Join(StateDir(projectPath), "active-pipelines.json")
}

// SignalsDir returns the directory watched for stop-request files.
func SignalsDir(projectPath string) string {
	return filepath.Join(StateDir(projectPath), "signals")
}

// DebugLogPath returns the orchestrator debug log file.
func DebugLogPath(projectPath string) string {
	return filepath.Join(StateDir(projectPath), "logs", "orchestrator-debug.log")
}

// DBPath returns the run-history database file.
func DBPath(projectPath string) string {
	return filepath.Join(StateDir(projectPath), "state.db")
}

// WorktreesDir returns the directory for integration temp worktrees.
func WorktreesDir(projectPath string) string {
	return filepath.Join(StateDir(projectPath), "worktrees")
}

// ProtectedBranchesPath returns the optional protected-branch patterns file.
func ProtectedBranchesPath(projectPath string) string {
	return filepath.Join(StateDir(projectPath), "protected-branches.yaml")
}

// ResolvePath resolves a possibly relative configured path against the
// project directory. Absolute paths pass through unchanged.
func ResolvePath(projectPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectPath, p)
}
