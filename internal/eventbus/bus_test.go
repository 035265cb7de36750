package eventbus

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: JobEnqueued, Job: JobEvent{ID: "a", Type: "channel.import", State: "SCHEDULED"}})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != JobEnqueued || e.Job.ID != "a" {
				t.Fatalf("subscriber %d got %+v", i, e)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: timestamp not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: JobProgress, Job: JobEvent{ID: "a", Progress: float64(i) / 100}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	// The buffer held at most one event; the rest were dropped silently.
	if e := <-ch; e.Type != JobProgress {
		t.Fatalf("got %+v", e)
	}
}

func TestUnsubscribeIsIdempotentAndSafe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // second call must not panic

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic either.
	b.Publish(Event{Type: JobCompleted, Job: JobEvent{ID: "a"}})
}

func TestSubscribeDefaultBuffer(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	defer unsub()

	// A zero buffer request still yields a buffered channel so Publish can
	// deliver without a waiting reader.
	b.Publish(Event{Type: JobStarted, Job: JobEvent{ID: "a"}})
	select {
	case e := <-ch:
		if e.Job.ID != "a" {
			t.Fatalf("got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
