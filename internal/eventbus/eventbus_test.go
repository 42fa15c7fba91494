package eventbus

import (
	"testing"
	"time"

	"github.com/axbridge/axd/internal/model"
)

func TestBus_SubscribeReceivesPublishedEvent(t *testing.T) {
	t.Parallel()
	b := New()
	_, events, _ := b.Subscribe(Filter{Types: []string{"process.*"}})

	b.Publish(model.Event{Type: "process.exit", App: "TextEdit"})
	b.Publish(model.Event{Type: "ui.update", App: "TextEdit"})

	select {
	case e := <-events:
		if e.Type != "process.exit" {
			t.Fatalf("got %q, want process.exit", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching event")
	}

	select {
	case e := <-events:
		t.Fatalf("unexpected second delivery: %+v", e)
	default:
	}
}

func TestBus_AppFilterIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	b := New()
	_, events, _ := b.Subscribe(Filter{AppFilter: "Safari"})
	b.Publish(model.Event{Type: "ui.update", App: "safari"})

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected delivery despite case difference")
	}
}

func TestBus_DeliveryOrderMatchesPublishOrder(t *testing.T) {
	t.Parallel()
	b := New()
	_, events, _ := b.Subscribe(Filter{})
	for i := 0; i < 5; i++ {
		b.Publish(model.Event{Type: "tick", App: "X", PID: i})
	}
	for i := 0; i < 5; i++ {
		e := <-events
		if e.PID != i {
			t.Fatalf("event %d out of order: got pid %d", i, e.PID)
		}
	}
}

func TestBus_RingBufferBoundedAtCapacity(t *testing.T) {
	t.Parallel()
	b := NewWithCapacity(3)
	for i := 0; i < 10; i++ {
		b.Publish(model.Event{Type: "tick", PID: i})
	}
	if got := b.EventCount(); got != 3 {
		t.Fatalf("EventCount() = %d, want 3", got)
	}
	recent := b.GetRecent(Filter{}, 0)
	if len(recent) != 3 || recent[0].PID != 7 || recent[2].PID != 9 {
		t.Fatalf("GetRecent = %+v, want pids 7,8,9", recent)
	}
}

func TestBus_BackpressureDropsSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	_, _, dropped := b.Subscribe(Filter{})

	for i := 0; i < DefaultDropThreshold+10; i++ {
		b.Publish(model.Event{Type: "tick", PID: i})
	}

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to be dropped under backpressure")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New()
	id, events, _ := b.Subscribe(Filter{})
	b.Unsubscribe(id)

	b.Publish(model.Event{Type: "tick"})

	if _, ok := <-events; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}
