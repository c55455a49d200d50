package bus

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine; a panicking handler is recovered, logged, and
// skipped without affecting delivery to the remaining handlers.
type Handler func(Event)

// Bus fans published events out to subscribers and appends each one to an
// append-only NDJSON journal.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler

	journalPath string
	journalMu   sync.Mutex
	journal     *os.File
	journalDown bool

	handlerFailures atomic.Uint64
	published       atomic.Uint64
}

// New creates a Bus journaling to journalPath. An empty path disables the
// journal. The journal file is opened lazily on first publish.
func New(journalPath string) *Bus {
	return &Bus{
		handlers:    make(map[EventType][]Handler),
		journalPath: journalPath,
	}
}

// On registers a handler for a single event type.
func (b *Bus) On(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// OnAll registers a handler invoked for every published event.
func (b *Bus) OnAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers ev to type-specific handlers first, then to catch-all
// handlers, each set in registration order, and finally appends the event
// to the journal before returning. A zero timestamp is stamped with the
// current time.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if !KnownType(ev.Type) {
		log.Printf("[bus] publishing unknown event type %q", ev.Type)
	}

	b.mu.RLock()
	specific := make([]Handler, len(b.handlers[ev.Type]))
	copy(specific, b.handlers[ev.Type])
	all := make([]Handler, len(b.all))
	copy(all, b.all)
	b.mu.RUnlock()

	for _, h := range specific {
		b.invoke(h, ev)
	}
	for _, h := range all {
		b.invoke(h, ev)
	}

	b.published.Add(1)
	b.append(ev)
}

// invoke runs one handler, absorbing panics so one subscriber cannot break
// delivery to the rest.
func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerFailures.Add(1)
			log.Printf("[bus] handler panic on %s: %v", ev.Type, r)
		}
	}()
	h(ev)
}

// append writes one JSON line to the journal. Failures are logged once per
// streak and never surfaced to publishers.
func (b *Bus) append(ev Event) {
	if b.journalPath == "" {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[bus] journal marshal failed: %v", err)
		return
	}

	b.journalMu.Lock()
	defer b.journalMu.Unlock()

	if b.journal == nil {
		if err := os.MkdirAll(filepath.Dir(b.journalPath), 0755); err != nil {
			b.noteJournalErr(err)
			return
		}
		f, err := os.OpenFile(b.journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			b.noteJournalErr(err)
			return
		}
		b.journal = f
	}

	if _, err := b.journal.Write(append(line, '\n')); err != nil {
		b.noteJournalErr(err)
		return
	}
	b.journalDown = false
}

func (b *Bus) noteJournalErr(err error) {
	if !b.journalDown {
		log.Printf("[bus] journal write failed: %v", err)
		b.journalDown = true
	}
}

// HandlerFailures returns the number of recovered handler panics.
func (b *Bus) HandlerFailures() uint64 {
	return b.handlerFailures.Load()
}

// Published returns the number of events published so far.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close syncs and closes the journal file, if open.
func (b *Bus) Close() error {
	b.journalMu.Lock()
	defer b.journalMu.Unlock()
	if b.journal == nil {
		return nil
	}
	f := b.journal
	b.journal = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
