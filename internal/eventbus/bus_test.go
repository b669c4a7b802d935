package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TimerFired, Data: CycleData{Timer: "x", Seq: 1}})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TimerFired || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("unsubscribed channel should be closed")
	}
	b.Publish(Event{Type: TimerStopped})
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})
	if e := <-ch; e.Type != "one" {
		t.Fatalf("got %q, want first event kept", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("second event should have been dropped, got %q", e.Type)
	default:
	}
}
