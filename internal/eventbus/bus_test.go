package eventbus

import (
	"sync"
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(2)
	defer unsub()

	b.Publish(Event{Type: TypeSend, Data: SendEvent{Channel: "slack", Outcome: SendSent}})
	e := <-ch
	if e.Type != TypeSend || e.Time.IsZero() {
		t.Fatalf("event=%+v", e)
	}
	if se, ok := e.Data.(SendEvent); !ok || se.Outcome != SendSent {
		t.Fatalf("data=%#v", e.Data)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeTick})
	}
	if len(ch) != 1 {
		t.Fatalf("buffered=%d want 1", len(ch))
	}
}

func TestUnsubscribeWhilePublishing(t *testing.T) {
	t.Parallel()

	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		_, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() { defer wg.Done(); unsub(); unsub() }()
		go func() { defer wg.Done(); b.Publish(Event{Type: TypeJob}) }()
	}
	wg.Wait()
}

func TestNop(t *testing.T) {
	t.Parallel()

	b := Nop()
	b.Publish(Event{Type: TypeTick})
	ch, unsub := b.Subscribe(1)
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("nop channel must be closed")
	}
}
