// Package signals turns files dropped in the signals directory into
// stop requests for running pipelines. Another process (or an operator
// with touch) writes stop-<request_id>; the watching process acts on it
// and deletes the file.
package signals

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mood-agency/funny-sub004/internal/errkind"
)

const stopPrefix = "stop-"

// StopFunc is invoked with the request ID a stop file names.
type StopFunc func(requestID string)

// Watcher reacts to stop files appearing in its directory.
type Watcher struct {
	dir  string
	stop StopFunc
	poll time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// New creates a watcher over dir, creating the directory if needed.
func New(dir string, stop StopFunc) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.E(errkind.PersistenceError, "signals.new", err)
	}
	return &Watcher{
		dir:  dir,
		stop: stop,
		poll: 2 * time.Second,
		done: make(chan struct{}),
	}, nil
}

// Start sweeps stop files that already exist, then watches for new
// ones. When the fsnotify watcher cannot start, a polling loop takes
// over.
func (w *Watcher) Start() {
	w.sweep()

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if aerr := fw.Add(w.dir); aerr != nil {
			fw.Close()
			err = aerr
		}
	}
	if err != nil {
		log.Printf("[signals] watcher unavailable (%v), polling %s", err, w.dir)
		w.wg.Add(1)
		go w.pollLoop()
		return
	}

	w.watcher = fw
	w.wg.Add(1)
	go w.watchLoop()
}

// Stop halts watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.done) })
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handle(ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[signals] watch error: %v", err)
		}
	}
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep catches files dropped while nothing was watching.
func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.handle(filepath.Join(w.dir, e.Name()))
		}
	}
}

// handle consumes one signal file: parse, act, delete.
func (w *Watcher) handle(path string) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, stopPrefix) {
		return
	}
	requestID := strings.TrimPrefix(name, stopPrefix)
	if requestID == "" {
		return
	}

	log.Printf("[signals] stop requested for %s", requestID)
	w.stop(requestID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[signals] removing %s: %v", path, err)
	}
}

// Request drops a stop file for requestID under dir and returns its
// path. A process watching the directory acts on it.
func Request(dir, requestID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errkind.E(errkind.PersistenceError, "signals.request", err)
	}
	path := filepath.Join(dir, stopPrefix+requestID)
	if err := os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
		return "", errkind.E(errkind.PersistenceError, "signals.request", err)
	}
	return path, nil
}
