package eventbus

import (
	"testing"
	"time"
)

type outcome struct {
	Kind string
	Chat int64
}

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New[outcome]()
	ch1, unsub1 := b.Subscribe(4)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(outcome{Kind: "sent", Chat: 42})

	for i, ch := range []<-chan outcome{ch1, ch2} {
		select {
		case v := <-ch:
			if v.Kind != "sent" || v.Chat != 42 {
				t.Fatalf("subscriber %d got %+v", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	t.Parallel()
	b := New[int]()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	// Exactly the buffered value survives.
	if got := len(ch); got != 1 {
		t.Fatalf("buffered values = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New[int]()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(7)
}
