// Package manifest owns the durable branch-lifecycle manifest.
//
// Branches move through three compartments: ready (pipeline finished,
// awaiting integration), pending_merge (integration PR open), and
// merge_history (PR merged). A branch lives in at most one compartment
// at a time. Every mutation is a locked read-modify-write followed by
// an atomic file replace.
package manifest

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mood-agency/funny-sub004/internal/atomicfile"
	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/pkg/models"
)

// ReadyEntry records a branch whose pipeline completed successfully.
type ReadyEntry struct {
	// Branch is the caller's original branch name.
	Branch string `json:"branch"`
	// PipelineBranch is the prefixed working branch the agents produced.
	PipelineBranch string `json:"pipeline_branch"`
	// WorktreePath is where the pipeline ran.
	WorktreePath string `json:"worktree_path"`
	// RequestID is the pipeline request that produced this entry.
	RequestID string `json:"request_id"`
	// Tier is the classified change size.
	Tier models.Tier `json:"tier"`
	// PipelineResult carries the per-agent outcome record for the PR body.
	PipelineResult map[string]any `json:"pipeline_result,omitempty"`
	// CorrectionsApplied lists correction-cycle descriptions.
	CorrectionsApplied []string `json:"corrections_applied,omitempty"`
	// ReadyAt is when the entry was appended.
	ReadyAt time.Time `json:"ready_at"`
	// Priority orders integration; higher integrates first.
	Priority int `json:"priority"`
	// DependsOn lists branches that must reach merge_history first.
	DependsOn []string `json:"depends_on,omitempty"`
	// BaseMainSHA is the base head the pipeline branched from.
	BaseMainSHA string `json:"base_main_sha"`
	// BaseBranch overrides the configured base branch when set.
	BaseBranch string `json:"base_branch,omitempty"`
	// Metadata is the request metadata, carried through for adapters.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PendingMergeEntry is a ready entry with an open integration PR.
type PendingMergeEntry struct {
	ReadyEntry
	// PRNumber is the integration pull request number.
	PRNumber int `json:"pr_number"`
	// PRURL is the integration pull request URL.
	PRURL string `json:"pr_url"`
	// IntegrationBranch is the branch the PR merges from.
	IntegrationBranch string `json:"integration_branch"`
}

// HistoryEntry is a pending entry whose PR has merged.
type HistoryEntry struct {
	PendingMergeEntry
	// CommitSHA is the merge commit on the base branch, empty when unknown.
	CommitSHA string `json:"commit_sha"`
	// MergedAt is when the merge notification arrived.
	MergedAt time.Time `json:"merged_at"`
}

// Manifest is the single durable record of branch flow.
type Manifest struct {
	MainBranch   string              `json:"main_branch"`
	MainHead     string              `json:"main_head"`
	Ready        []ReadyEntry        `json:"ready"`
	PendingMerge []PendingMergeEntry `json:"pending_merge"`
	MergeHistory []HistoryEntry      `json:"merge_history"`
	LastUpdated  time.Time           `json:"last_updated"`
}

// PendingMergeInfo holds the integrator outputs recorded when a branch
// moves from ready to pending_merge.
type PendingMergeInfo struct {
	PRNumber          int
	PRURL             string
	IntegrationBranch string
	BaseMainSHA       string
}

// Manager serialises all access to the manifest file.
type Manager struct {
	path       string
	mainBranch string

	mu sync.Mutex
}

// NewManager creates a manager for the manifest at path. mainBranch
// seeds the empty manifest when the file does not exist yet.
func NewManager(path, mainBranch string) *Manager {
	if mainBranch == "" {
		mainBranch = "main"
	}
	return &Manager{path: path, mainBranch: mainBranch}
}

// Path returns the manifest file location.
func (mgr *Manager) Path() string {
	return mgr.path
}

func (mgr *Manager) empty() *Manifest {
	return &Manifest{
		MainBranch:   mgr.mainBranch,
		Ready:        []ReadyEntry{},
		PendingMerge: []PendingMergeEntry{},
		MergeHistory: []HistoryEntry{},
	}
}

// load reads the manifest file, returning the empty manifest when absent.
func (mgr *Manager) load() (*Manifest, error) {
	data, err := os.ReadFile(mgr.path)
	if err != nil {
		if os.IsNotExist(err) {
			return mgr.empty(), nil
		}
		return nil, errkind.E(errkind.PersistenceError, "manifest.load", err)
	}
	m := mgr.empty()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errkind.E(errkind.PersistenceError, "manifest.load",
			fmt.Errorf("parse %s: %w", mgr.path, err))
	}
	return m, nil
}

// save stamps last_updated and replaces the file atomically.
func (mgr *Manager) save(m *Manifest) error {
	m.LastUpdated = time.Now().UTC()
	if err := atomicfile.WriteJSON(mgr.path, m); err != nil {
		return errkind.E(errkind.PersistenceError, "manifest.save", err)
	}
	return nil
}

// flock acquires an advisory lock on a sidecar file so that other
// processes (the status command, a second daemon) cannot interleave.
func (mgr *Manager) flock(how int) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(mgr.path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(mgr.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func funlock(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}

// view runs fn with a freshly loaded manifest under a shared lock.
func (mgr *Manager) view(op string, fn func(*Manifest) error) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	lock, err := mgr.flock(syscall.LOCK_SH)
	if err != nil {
		return errkind.E(errkind.PersistenceError, op, err)
	}
	defer funlock(lock)

	m, err := mgr.load()
	if err != nil {
		return err
	}
	return fn(m)
}

// mutate runs fn under the exclusive lock and writes the manifest back
// when fn reports a change. An error from fn aborts without writing.
func (mgr *Manager) mutate(op string, fn func(*Manifest) (bool, error)) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	lock, err := mgr.flock(syscall.LOCK_EX)
	if err != nil {
		return errkind.E(errkind.PersistenceError, op, err)
	}
	defer funlock(lock)

	m, err := mgr.load()
	if err != nil {
		return err
	}
	changed, err := fn(m)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return mgr.save(m)
}

func findReady(m *Manifest, branch string) int {
	for i := range m.Ready {
		if m.Ready[i].Branch == branch {
			return i
		}
	}
	return -1
}

func findPending(m *Manifest, branch string) int {
	for i := range m.PendingMerge {
		if m.PendingMerge[i].Branch == branch {
			return i
		}
	}
	return -1
}

// AddToReady appends a completed pipeline to the ready list.
//
// Adding a branch that is already ready is a no-op; the first entry's
// request_id is preserved. A branch that is mid-integration cannot be
// re-added. A branch re-run after a previous merge supersedes its old
// history entry so that it appears in exactly one compartment.
func (mgr *Manager) AddToReady(entry ReadyEntry) error {
	const op = "manifest.add_to_ready"
	if entry.Branch == "" {
		return errkind.Errorf(errkind.Validation, op, "entry has no branch")
	}
	return mgr.mutate(op, func(m *Manifest) (bool, error) {
		if i := findReady(m, entry.Branch); i >= 0 {
			log.Printf("[manifest] %s already ready (request %s), keeping existing entry",
				entry.Branch, m.Ready[i].RequestID)
			return false, nil
		}
		if findPending(m, entry.Branch) >= 0 {
			return false, errkind.Errorf(errkind.Conflict, op,
				"branch %q has a pending integration PR", entry.Branch)
		}

		kept := m.MergeHistory[:0]
		for _, h := range m.MergeHistory {
			if h.Branch == entry.Branch {
				log.Printf("[manifest] %s: new run supersedes merge_history entry from %s",
					entry.Branch, h.MergedAt.Format(time.RFC3339))
				continue
			}
			kept = append(kept, h)
		}
		m.MergeHistory = kept

		if entry.ReadyAt.IsZero() {
			entry.ReadyAt = time.Now().UTC()
		}
		m.Ready = append(m.Ready, entry)
		return true, nil
	})
}

// FindReady returns the ready entry for branch, or nil when absent.
func (mgr *Manager) FindReady(branch string) (*ReadyEntry, error) {
	var found *ReadyEntry
	err := mgr.view("manifest.find_ready", func(m *Manifest) error {
		if i := findReady(m, branch); i >= 0 {
			entry := m.Ready[i]
			found = &entry
		}
		return nil
	})
	return found, err
}

// RemoveFromReady removes and returns the ready entry for branch.
// A missing branch returns nil without error.
func (mgr *Manager) RemoveFromReady(branch string) (*ReadyEntry, error) {
	var removed *ReadyEntry
	err := mgr.mutate("manifest.remove_from_ready", func(m *Manifest) (bool, error) {
		i := findReady(m, branch)
		if i < 0 {
			return false, nil
		}
		entry := m.Ready[i]
		removed = &entry
		m.Ready = append(m.Ready[:i], m.Ready[i+1:]...)
		return true, nil
	})
	return removed, err
}

// MoveToPendingMerge moves a ready branch into pending_merge, recording
// the integration PR the integrator opened for it.
func (mgr *Manager) MoveToPendingMerge(branch string, info PendingMergeInfo) error {
	const op = "manifest.move_to_pending_merge"
	return mgr.mutate(op, func(m *Manifest) (bool, error) {
		i := findReady(m, branch)
		if i < 0 {
			return false, errkind.Errorf(errkind.NotFound, op, "branch %q is not ready", branch)
		}
		for _, p := range m.PendingMerge {
			if p.PRNumber == info.PRNumber {
				return false, errkind.Errorf(errkind.Conflict, op,
					"PR #%d already tracked for branch %q", info.PRNumber, p.Branch)
			}
		}

		entry := m.Ready[i]
		m.Ready = append(m.Ready[:i], m.Ready[i+1:]...)

		pending := PendingMergeEntry{
			ReadyEntry:        entry,
			PRNumber:          info.PRNumber,
			PRURL:             info.PRURL,
			IntegrationBranch: info.IntegrationBranch,
		}
		if info.BaseMainSHA != "" {
			pending.BaseMainSHA = info.BaseMainSHA
		}
		m.PendingMerge = append(m.PendingMerge, pending)
		return true, nil
	})
}

// MoveBackToReady returns a pending branch to the ready list, dropping
// its PR fields. Used to roll back a failed integration.
func (mgr *Manager) MoveBackToReady(branch string) error {
	const op = "manifest.move_back_to_ready"
	return mgr.mutate(op, func(m *Manifest) (bool, error) {
		i := findPending(m, branch)
		if i < 0 {
			return false, errkind.Errorf(errkind.NotFound, op, "branch %q is not pending merge", branch)
		}
		entry := m.PendingMerge[i].ReadyEntry
		m.PendingMerge = append(m.PendingMerge[:i], m.PendingMerge[i+1:]...)
		m.Ready = append(m.Ready, entry)
		return true, nil
	})
}

// UpdatePendingMergeBaseSHA records the new base head after a rebase.
func (mgr *Manager) UpdatePendingMergeBaseSHA(branch, sha string) error {
	const op = "manifest.update_pending_base_sha"
	return mgr.mutate(op, func(m *Manifest) (bool, error) {
		i := findPending(m, branch)
		if i < 0 {
			return false, errkind.Errorf(errkind.NotFound, op, "branch %q is not pending merge", branch)
		}
		m.PendingMerge[i].BaseMainSHA = sha
		return true, nil
	})
}

// MoveToMergeHistory retires a pending branch whose PR has merged.
// commitSHA may be empty when the merge notification does not carry it.
func (mgr *Manager) MoveToMergeHistory(branch, commitSHA string) error {
	const op = "manifest.move_to_merge_history"
	return mgr.mutate(op, func(m *Manifest) (bool, error) {
		i := findPending(m, branch)
		if i < 0 {
			return false, errkind.Errorf(errkind.NotFound, op, "branch %q is not pending merge", branch)
		}
		entry := m.PendingMerge[i]
		m.PendingMerge = append(m.PendingMerge[:i], m.PendingMerge[i+1:]...)
		m.MergeHistory = append(m.MergeHistory, HistoryEntry{
			PendingMergeEntry: entry,
			CommitSHA:         commitSHA,
			MergedAt:          time.Now().UTC(),
		})
		return true, nil
	})
}

// MainHead returns the last recorded head of the base branch.
func (mgr *Manager) MainHead() (string, error) {
	var head string
	err := mgr.view("manifest.main_head", func(m *Manifest) error {
		head = m.MainHead
		return nil
	})
	return head, err
}

// UpdateMainHead records the current head of the base branch.
func (mgr *Manager) UpdateMainHead(sha string) error {
	return mgr.mutate("manifest.update_main_head", func(m *Manifest) (bool, error) {
		if m.MainHead == sha {
			return false, nil
		}
		m.MainHead = sha
		return true, nil
	})
}

// Snapshot returns a fresh copy of the whole manifest. Each call loads
// from disk, so the result never aliases manager state.
func (mgr *Manager) Snapshot() (*Manifest, error) {
	var snap *Manifest
	err := mgr.view("manifest.snapshot", func(m *Manifest) error {
		snap = m
		return nil
	})
	return snap, err
}
