// Package idempotency enforces at most one active pipeline per branch.
package idempotency

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mood-agency/funny-sub004/internal/atomicfile"
)

// defaultDebounce is how long after the last mutation the file is rewritten.
const defaultDebounce = 500 * time.Millisecond

// CheckResult reports whether a branch already has an active pipeline.
type CheckResult struct {
	// IsDuplicate is true when the branch is already registered.
	IsDuplicate bool
	// ExistingRequestID is the active request when IsDuplicate is true.
	ExistingRequestID string
}

// Guard maps branches to their active request and persists the mapping so a
// restart keeps rejecting duplicates. Mutations take effect in memory
// immediately; only the file write is debounced.
type Guard struct {
	path     string
	debounce time.Duration

	mu     sync.Mutex
	active map[string]string
	timer  *time.Timer
}

// New creates a Guard persisting to path. A zero debounce uses the default.
func New(path string, debounce time.Duration) *Guard {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Guard{
		path:     path,
		debounce: debounce,
		active:   make(map[string]string),
	}
}

// Load rehydrates the mapping from disk. A missing file is a no-op.
func (g *Guard) Load() error {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read active pipelines: %w", err)
	}

	loaded := make(map[string]string)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse active pipelines: %w", err)
	}

	g.mu.Lock()
	g.active = loaded
	g.mu.Unlock()
	return nil
}

// Check reports whether branch already has an active pipeline.
func (g *Guard) Check(branch string) CheckResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.active[branch]; ok {
		return CheckResult{IsDuplicate: true, ExistingRequestID: id}
	}
	return CheckResult{}
}

// Register records branch as active under requestID. Re-registering an
// already-active branch updates the stored request ID.
func (g *Guard) Register(branch, requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[branch] = requestID
	g.scheduleFlush()
}

// Release removes the branch from the active set.
func (g *Guard) Release(branch string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[branch]; !ok {
		return
	}
	delete(g.active, branch)
	g.scheduleFlush()
}

// scheduleFlush must be called with the mutex held.
func (g *Guard) scheduleFlush() {
	if g.timer != nil {
		g.timer.Reset(g.debounce)
		return
	}
	g.timer = time.AfterFunc(g.debounce, func() {
		if err := g.Flush(); err != nil {
			log.Printf("[idempotency] flush failed: %v", err)
		}
	})
}

// Flush writes the mapping to disk immediately, cancelling any pending
// debounced write.
func (g *Guard) Flush() error {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
	}
	snapshot := make(map[string]string, len(g.active))
	for k, v := range g.active {
		snapshot[k] = v
	}
	g.mu.Unlock()

	if err := atomicfile.WriteJSON(g.path, snapshot); err != nil {
		return fmt.Errorf("write active pipelines: %w", err)
	}
	return nil
}

// Active returns a copy of the current branch to request mapping.
func (g *Guard) Active() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.active))
	for k, v := range g.active {
		out[k] = v
	}
	return out
}
