package bus

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	b := New("")
	defer b.Close()

	var got []EventType
	b.On(EventPipelineCompleted, func(ev Event) {
		got = append(got, ev.Type)
	})
	b.On(EventPipelineFailed, func(ev Event) {
		t.Error("failed handler should not fire for completed event")
	})

	b.Publish(Event{Type: EventPipelineCompleted, RequestID: "r1"})

	if len(got) != 1 || got[0] != EventPipelineCompleted {
		t.Errorf("delivered = %v, want [%s]", got, EventPipelineCompleted)
	}
}

func TestBus_DeliveryOrderPerSubscriber(t *testing.T) {
	b := New("")
	defer b.Close()

	var order []string
	b.OnAll(func(ev Event) {
		order = append(order, ev.Data["n"].(string))
	})

	for _, n := range []string{"1", "2", "3", "4"} {
		b.Publish(Event{Type: EventPipelineMessage, Data: map[string]any{"n": n}})
	}

	want := []string{"1", "2", "3", "4"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", order, want)
		}
	}
}

func TestBus_SpecificHandlersRunBeforeCatchAll(t *testing.T) {
	b := New("")
	defer b.Close()

	var order []string
	b.OnAll(func(ev Event) { order = append(order, "all") })
	b.On(EventPipelineAccepted, func(ev Event) { order = append(order, "specific") })

	b.Publish(Event{Type: EventPipelineAccepted})

	if len(order) != 2 || order[0] != "specific" || order[1] != "all" {
		t.Errorf("order = %v, want [specific all]", order)
	}
}

func TestBus_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := New("")
	defer b.Close()

	fired := false
	b.On(EventPipelineCompleted, func(ev Event) { panic("boom") })
	b.On(EventPipelineCompleted, func(ev Event) { fired = true })

	b.Publish(Event{Type: EventPipelineCompleted})

	if !fired {
		t.Error("second handler did not run after first panicked")
	}
	if got := b.HandlerFailures(); got != 1 {
		t.Errorf("HandlerFailures() = %d, want 1", got)
	}
}

func TestBus_JournalHoldsEveryPublishedEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.ndjson")
	b := New(path)

	published := []Event{
		{Type: EventPipelineAccepted, RequestID: "r1"},
		{Type: EventPipelineTierClassified, RequestID: "r1", Data: map[string]any{"tier": "small"}},
		{Type: EventPipelineCompleted, RequestID: "r1"},
	}
	for _, ev := range published {
		b.Publish(ev)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad journal line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, ev)
	}

	if len(lines) != len(published) {
		t.Fatalf("journal has %d lines, want %d", len(lines), len(published))
	}
	for i, ev := range published {
		if lines[i].Type != ev.Type || lines[i].RequestID != ev.RequestID {
			t.Errorf("journal[%d] = {%s %s}, want {%s %s}",
				i, lines[i].Type, lines[i].RequestID, ev.Type, ev.RequestID)
		}
		if lines[i].Timestamp.IsZero() {
			t.Errorf("journal[%d] has zero timestamp", i)
		}
	}
}

func TestBus_EmptyJournalPathWritesNothing(t *testing.T) {
	b := New("")
	b.Publish(Event{Type: EventPipelineAccepted})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}

func TestBus_UnknownTypeStillDelivered(t *testing.T) {
	b := New("")
	defer b.Close()

	fired := false
	b.OnAll(func(ev Event) { fired = true })
	b.Publish(Event{Type: EventType("made.up")})

	if !fired {
		t.Error("unknown event type was not delivered")
	}
}

func TestKnownType(t *testing.T) {
	tests := []struct {
		t    EventType
		want bool
	}{
		{EventPipelineCompleted, true},
		{EventDirectorPRRebaseNeeded, true},
		{EventIntegrationPRMerged, true},
		{EventCleanupCompleted, true},
		{EventType("pipeline.unknown"), false},
		{EventType(""), false},
	}
	for _, tt := range tests {
		if got := KnownType(tt.t); got != tt.want {
			t.Errorf("KnownType(%q) = %v, want %v", tt.t, got, tt.want)
		}
	}
}
