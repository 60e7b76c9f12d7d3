package events

import (
	"testing"

	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

func TestBroadcastFanOut(t *testing.T) {
	hub := NewHub()

	var a, b []string
	hub.Subscribe("a", func(e protocol.Event) { a = append(a, e.Name) })
	hub.Subscribe("b", func(e protocol.Event) { b = append(b, e.Name) })

	hub.Broadcast(protocol.Event{Name: protocol.EventTodo})
	hub.Broadcast(protocol.Event{Name: protocol.EventChunk})

	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("a=%v b=%v", a, b)
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	calls := 0
	hub.Subscribe("a", func(protocol.Event) { calls++ })
	hub.Unsubscribe("a")
	hub.Broadcast(protocol.Event{Name: "x"})
	if calls != 0 {
		t.Errorf("calls = %d", calls)
	}
	if hub.SubscriberCount() != 0 {
		t.Errorf("count = %d", hub.SubscriberCount())
	}
}

func TestPanickingHandlerDropped(t *testing.T) {
	hub := NewHub()
	hub.Subscribe("bad", func(protocol.Event) { panic("boom") })
	ok := 0
	hub.Subscribe("good", func(protocol.Event) { ok++ })

	hub.Broadcast(protocol.Event{Name: "x"})
	hub.Broadcast(protocol.Event{Name: "y"})

	if ok != 2 {
		t.Errorf("good handler calls = %d", ok)
	}
	if hub.SubscriberCount() != 1 {
		t.Errorf("count = %d, want 1 after drop", hub.SubscriberCount())
	}
}
