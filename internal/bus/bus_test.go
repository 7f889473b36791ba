package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 4)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged, SessionID: "s1", Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged || evt.SessionID != "s1" {
			t.Errorf("got %q/%q, want %q/s1", evt.Kind, evt.SessionID, KindStatusChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFilter(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 4)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged, SessionID: "s1"})
	b.Publish(Event{Kind: KindMessageUpsert, SessionID: "s1"})

	evt := <-ch
	if evt.Kind != KindMessageUpsert {
		t.Errorf("kind = %q, want %q", evt.Kind, KindMessageUpsert)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected extra event %q", evt.Kind)
	default:
	}
}

func TestSessionFilter(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeSession("session.", "s2", 4)
	defer unsub()

	b.Publish(Event{Kind: KindQR, SessionID: "s1"})
	b.Publish(Event{Kind: KindQR, SessionID: "s2"})

	evt := <-ch
	if evt.SessionID != "s2" {
		t.Errorf("session = %q, want s2", evt.SessionID)
	}
	select {
	case <-ch:
		t.Error("event for other session leaked through filter")
	default:
	}
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindMessageUpsert})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 4)
	unsub()

	b.Publish(Event{Kind: KindReady})
	select {
	case <-ch:
		t.Error("received event after unsubscribe")
	default:
	}
}
