package server

import (
	"testing"

	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/orchestrator"
)

func drain(c *client) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	slow := &client{id: "slow", send: make(chan Event, 1)}
	fast := &client{id: "fast", send: make(chan Event, 8)}
	h.add(slow)
	h.add(fast)

	for range 5 {
		h.Broadcast(Event{Type: EventInterim})
	}
	if n := len(drain(slow)); n != 1 {
		t.Errorf("slow client got %d events, want 1", n)
	}
	if n := len(drain(fast)); n != 5 {
		t.Errorf("fast client got %d events, want 5", n)
	}

	h.remove(slow)
	h.remove(slow) // second removal is a no-op
	if h.Clients() != 1 {
		t.Errorf("Clients = %d, want 1", h.Clients())
	}
	if _, ok := <-slow.send; ok {
		t.Error("removed client's queue still open")
	}
	h.send(slow, Event{Type: EventError}) // must not panic on the closed queue
}

func TestHub_IndicatorSplitsEvents(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	c := &client{id: "c", send: make(chan Event, 16)}
	h.add(c)
	on := h.Hooks().OnIndicator

	on(orchestrator.IndicatorState{Speaker: "u1"})
	on(orchestrator.IndicatorState{Speaker: "u2", Busy: true})
	on(orchestrator.IndicatorState{Speaker: "u2"})

	var got []string
	for _, ev := range drain(c) {
		switch p := ev.Payload.(type) {
		case SpeakerPayload:
			got = append(got, "speaker:"+p.SpeakerID)
		case BusyPayload:
			if p.Busy {
				got = append(got, "busy:on")
			} else {
				got = append(got, "busy:off")
			}
		}
	}
	want := []string{"speaker:u1", "speaker:u2", "busy:on", "busy:off"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if s := h.indicatorState(); s.Speaker != "u2" || s.Busy {
		t.Errorf("indicatorState = %+v", s)
	}
}

func TestStoreEvent(t *testing.T) {
	t.Parallel()

	msg := chat.Message{ID: "m1", Text: "hola"}
	ev := storeEvent(chat.Event{Kind: chat.MessageAdded, GroupID: "g1", Message: msg})
	if ev.Type != EventMessageAdded {
		t.Errorf("type = %q", ev.Type)
	}
	if p, ok := ev.Payload.(MessagePayload); !ok || p.GroupID != "g1" || p.Message.ID != "m1" {
		t.Errorf("payload = %#v", ev.Payload)
	}

	ev = storeEvent(chat.Event{Kind: chat.GroupDeleted, GroupID: "g1"})
	if ev.Type != EventGroupDeleted {
		t.Errorf("type = %q", ev.Type)
	}
}
