package events

import (
	"testing"

	"bountychain/core/types"
)

type testEvent struct {
	kind string
	id   string
}

func (e testEvent) EventType() string { return e.kind }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: e.kind, Attributes: map[string]string{"id": e.id}}
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{kind: "a"})
	buf.Emit(nil)
	buf.Emit(testEvent{kind: "b"})
	if buf.Len() != 2 {
		t.Fatalf("expected 2 buffered events, got %d", buf.Len())
	}

	var got []string
	buf.Flush(EmitterFunc(func(evt Event) { got = append(got, evt.EventType()) }))
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected flush order: %v", got)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer should be empty after flush")
	}
}

func TestBufferResetDropsEvents(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{kind: "a"})
	buf.Reset()
	called := false
	buf.Flush(EmitterFunc(func(Event) { called = true }))
	if called {
		t.Fatalf("reset buffer must not forward events")
	}
}

func TestMultiFansOut(t *testing.T) {
	var first, second Buffer
	Multi{&first, nil, &second}.Emit(testEvent{kind: "x"})
	if first.Len() != 1 || second.Len() != 1 {
		t.Fatalf("expected both emitters to receive the event")
	}
}

func TestToPayload(t *testing.T) {
	rendered := ToPayload(testEvent{kind: "x", id: "7"})
	if rendered.Type != "x" || rendered.Attr("id") != "7" {
		t.Fatalf("unexpected payload %+v", rendered)
	}
	bare := ToPayload(bareEvent{})
	if bare.Type != "bare" || len(bare.Attributes) != 0 {
		t.Fatalf("unexpected bare payload %+v", bare)
	}
	if ToPayload(nil) != nil {
		t.Fatalf("nil event should render to nil")
	}
}

func TestFeedBroadcastAndDrop(t *testing.T) {
	feed := NewFeed()
	fast, cancelFast := feed.Subscribe(4)
	defer cancelFast()
	slow, cancelSlow := feed.Subscribe(1)

	feed.Emit(testEvent{kind: "a", id: "1"})
	feed.Emit(testEvent{kind: "b", id: "2"})

	if got := (<-fast).Type; got != "a" {
		t.Fatalf("fast subscriber expected a, got %s", got)
	}
	if got := (<-fast).Type; got != "b" {
		t.Fatalf("fast subscriber expected b, got %s", got)
	}
	if got := (<-slow).Type; got != "a" {
		t.Fatalf("slow subscriber expected a, got %s", got)
	}
	if feed.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", feed.Dropped())
	}

	cancelSlow()
	cancelSlow()
	if _, ok := <-slow; ok {
		t.Fatalf("cancelled subscription channel should be closed")
	}
	if feed.Subscribers() != 1 {
		t.Fatalf("expected one remaining subscriber, got %d", feed.Subscribers())
	}
}
