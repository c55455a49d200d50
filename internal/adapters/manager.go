package adapters

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/dlq"
	"github.com/mood-agency/funny-sub004/internal/errkind"
)

// Adapter is one outbound delivery target.
type Adapter interface {
	// Name identifies the adapter in DLQ paths and logs.
	Name() string
	// Matches reports whether the adapter wants this event type.
	Matches(t bus.EventType) bool
	// Deliver sends one event.
	Deliver(ctx context.Context, ev bus.Event) error
}

// deliveryBuffer bounds how many undelivered events may queue before
// overflow is routed straight to the DLQ.
const deliveryBuffer = 256

// Manager fans published events out to adapters on its own goroutine so
// bus publication never blocks on outbound HTTP. Failed deliveries land
// in the DLQ for retry.
type Manager struct {
	adapters []Adapter
	queue    chan bus.Event
	dead     *dlq.Queue

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewManager creates a Manager over the given adapters. dead may be nil
// when the DLQ is disabled; failures are then only logged.
func NewManager(adapters []Adapter, dead *dlq.Queue) *Manager {
	return &Manager{
		adapters: adapters,
		queue:    make(chan bus.Event, deliveryBuffer),
		dead:     dead,
	}
}

// Attach subscribes the manager to every event on the bus.
func (m *Manager) Attach(b *bus.Bus) {
	b.OnAll(m.accept)
}

// accept hands the event to the delivery goroutine. When the queue is
// full the event goes straight to the DLQ rather than blocking publish.
func (m *Manager) accept(ev bus.Event) {
	select {
	case m.queue <- ev:
	default:
		log.Printf("[adapters] delivery queue full, spilling %s to DLQ", ev.Type)
		m.spill(ev, errors.New("delivery queue full"))
	}
}

// Start launches the delivery goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.stopCh)
}

// Stop drains queued events and halts the delivery goroutine.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(stopCh chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.queue:
			m.fanOut(ev)
		case <-stopCh:
			for {
				select {
				case ev := <-m.queue:
					m.fanOut(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) fanOut(ev bus.Event) {
	for _, a := range m.adapters {
		if !a.Matches(ev.Type) {
			continue
		}
		if err := a.Deliver(context.Background(), ev); err != nil {
			log.Printf("[adapters] %s: delivering %s: %v", a.Name(), ev.Type, err)
			m.enqueue(a.Name(), ev, err)
		}
	}
}

// Deliver re-attempts one delivery on behalf of the DLQ retry loop. It
// satisfies dlq.DeliverFunc.
func (m *Manager) Deliver(ctx context.Context, adapter string, ev bus.Event) error {
	for _, a := range m.adapters {
		if a.Name() == adapter {
			return a.Deliver(ctx, ev)
		}
	}
	return errkind.Errorf(errkind.NotFound, "adapters.deliver", "no adapter %q", adapter)
}

// spill records an event that never reached the delivery goroutine.
func (m *Manager) spill(ev bus.Event, cause error) {
	for _, a := range m.adapters {
		if a.Matches(ev.Type) {
			m.enqueue(a.Name(), ev, cause)
		}
	}
}

func (m *Manager) enqueue(adapter string, ev bus.Event, cause error) {
	if m.dead == nil {
		return
	}
	if err := m.dead.Enqueue(adapter, ev, cause); err != nil {
		log.Printf("[adapters] DLQ enqueue for %s: %v", adapter, err)
	}
}
