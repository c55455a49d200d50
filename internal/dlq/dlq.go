// Package dlq provides a durable retry queue for failed outbound deliveries.
// Each entry is one file under a per-adapter directory, so concurrent writes
// never contend on a shared file.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mood-agency/funny-sub004/internal/atomicfile"
	"github.com/mood-agency/funny-sub004/internal/bus"
)

// EntryState marks whether an entry is still being retried.
type EntryState string

const (
	// StatePending means the entry is awaiting another delivery attempt.
	StatePending EntryState = "pending"
	// StateDead means retries are exhausted; the entry is kept for observation.
	StateDead EntryState = "dead"
)

// Entry is one failed delivery awaiting retry.
type Entry struct {
	// ID is a ULID, so lexicographic file order is chronological.
	ID string `json:"id"`
	// Adapter names the delivery adapter the event belongs to.
	Adapter string `json:"adapter_name"`
	// Event is the undelivered event.
	Event bus.Event `json:"event"`
	// Attempt counts redelivery attempts so far.
	Attempt int `json:"attempt"`
	// NextAttemptAt is when the entry becomes due again.
	NextAttemptAt time.Time `json:"next_attempt_at"`
	// LastError is the most recent delivery failure.
	LastError string `json:"last_error"`
	// State is pending until delivered or declared dead.
	State EntryState `json:"state"`
}

// DeliverFunc re-attempts delivery of an event for an adapter.
type DeliverFunc func(ctx context.Context, adapter string, ev bus.Event) error

// Options configure the queue.
type Options struct {
	// Path is the root directory for entry files.
	Path string
	// MaxRetries is the number of redeliveries before an entry is dead.
	MaxRetries int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// BackoffFactor multiplies the delay per attempt. Values below 1 are
	// treated as 2.
	BackoffFactor float64
	// RetryInterval is how often the retry loop scans for due entries.
	RetryInterval time.Duration
}

// Queue is the dead-letter queue. Start launches the retry loop; Enqueue may
// be called regardless of whether the loop is running.
type Queue struct {
	opts    Options
	deliver DeliverFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Queue rooted at opts.Path, redelivering through deliver.
func New(opts Options, deliver DeliverFunc) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 2
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	return &Queue{
		opts:    opts,
		deliver: deliver,
		stopCh:  make(chan struct{}),
	}
}

// escapeAdapter makes an adapter name safe as a single directory component.
func escapeAdapter(name string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return r.Replace(name)
}

// Enqueue stores a failed delivery for later retry.
func (q *Queue) Enqueue(adapter string, ev bus.Event, cause error) error {
	entry := Entry{
		ID:            ulid.Make().String(),
		Adapter:       adapter,
		Event:         ev,
		Attempt:       0,
		NextAttemptAt: time.Now().Add(q.opts.BaseDelay),
		State:         StatePending,
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}

	path := q.entryPath(adapter, entry.ID)
	if err := atomicfile.WriteJSON(path, entry); err != nil {
		return fmt.Errorf("enqueue dlq entry: %w", err)
	}
	log.Printf("[dlq] queued %s event %s for %s", entry.ID, ev.Type, adapter)
	return nil
}

func (q *Queue) entryPath(adapter, id string) string {
	return filepath.Join(q.opts.Path, escapeAdapter(adapter), id+".json")
}

// Start launches the retry loop. It returns immediately; Stop shuts the
// loop down and waits for it.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.opts.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-ticker.C:
				q.sweep(ctx)
			}
		}
	}()
}

// Stop terminates the retry loop and waits for it to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// sweep retries every due entry once. Entries are processed in ID order,
// which is chronological.
func (q *Queue) sweep(ctx context.Context) {
	adapters, err := os.ReadDir(q.opts.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[dlq] scan failed: %v", err)
		}
		return
	}

	now := time.Now()
	for _, dir := range adapters {
		if !dir.IsDir() {
			continue
		}
		q.sweepAdapter(ctx, dir.Name(), now)
	}
}

func (q *Queue) sweepAdapter(ctx context.Context, dir string, now time.Time) {
	adapterDir := filepath.Join(q.opts.Path, dir)
	files, err := os.ReadDir(adapterDir)
	if err != nil {
		log.Printf("[dlq] scan %s failed: %v", dir, err)
		return
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(adapterDir, name)
		entry, err := readEntry(path)
		if err != nil {
			log.Printf("[dlq] skipping unreadable entry %s: %v", name, err)
			continue
		}
		if entry.State == StateDead || entry.NextAttemptAt.After(now) {
			continue
		}
		q.retry(ctx, path, entry)
	}
}

func (q *Queue) retry(ctx context.Context, path string, entry Entry) {
	err := q.deliver(ctx, entry.Adapter, entry.Event)
	if err == nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Printf("[dlq] delivered %s but could not remove entry: %v", entry.ID, rmErr)
		}
		log.Printf("[dlq] delivered %s to %s after %d retries", entry.ID, entry.Adapter, entry.Attempt)
		return
	}

	entry.Attempt++
	entry.LastError = err.Error()
	if entry.Attempt >= q.opts.MaxRetries {
		entry.State = StateDead
		log.Printf("[dlq] entry %s for %s is dead after %d attempts: %v",
			entry.ID, entry.Adapter, entry.Attempt, err)
	} else {
		delay := time.Duration(float64(q.opts.BaseDelay) * math.Pow(q.opts.BackoffFactor, float64(entry.Attempt)))
		entry.NextAttemptAt = time.Now().Add(delay)
	}

	if wErr := atomicfile.WriteJSON(path, entry); wErr != nil {
		log.Printf("[dlq] could not update entry %s: %v", entry.ID, wErr)
	}
}

func readEntry(path string) (Entry, error) {
	var entry Entry
	data, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// List returns all entries for an adapter in chronological order.
func (q *Queue) List(adapter string) ([]Entry, error) {
	adapterDir := filepath.Join(q.opts.Path, escapeAdapter(adapter))
	files, err := os.ReadDir(adapterDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list dlq entries: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entry, err := readEntry(filepath.Join(adapterDir, name))
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Depth counts pending entries across all adapters.
func (q *Queue) Depth() int {
	adapters, err := os.ReadDir(q.opts.Path)
	if err != nil {
		return 0
	}
	depth := 0
	for _, dir := range adapters {
		if !dir.IsDir() {
			continue
		}
		entries, err := q.List(dir.Name())
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.State == StatePending {
				depth++
			}
		}
	}
	return depth
}
