package broker_test

import (
	"testing"
	"time"

	"github.com/taku-k/mysrv/broker"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	t.Parallel()
	b := broker.New(4)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(broker.Event{Kind: broker.KindQuery, Query: "SELECT 1"})

	select {
	case ev := <-ch:
		if ev.Kind != broker.KindQuery || ev.Query != "SELECT 1" {
			t.Fatalf("got %+v, want Kind=KindQuery Query=%q", ev, "SELECT 1")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()
	b := broker.New(4)
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(broker.Event{Kind: broker.KindConnect})

	for _, ch := range []<-chan broker.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != broker.KindConnect {
				t.Fatalf("Kind = %v, want KindConnect", ev.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out event")
		}
	}
}

func TestPublishDropsWhenSubscriberBufferFull(t *testing.T) {
	t.Parallel()
	b := broker.New(1)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Publish never blocks: the second event is dropped since the buffer
	// of size 1 is still full of the first.
	done := make(chan struct{})
	go func() {
		b.Publish(broker.Event{Kind: broker.KindQuery, Query: "first"})
		b.Publish(broker.Event{Kind: broker.KindQuery, Query: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	ev := <-ch
	if ev.Query != "first" {
		t.Fatalf("got %q, want %q (the second publish should have been dropped)", ev.Query, "first")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := broker.New(4)
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}

	// Publishing after everyone has unsubscribed must not panic.
	b.Publish(broker.Event{Kind: broker.KindQuery})
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	t.Parallel()
	b := broker.New(4)
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()

	b.Close()

	for _, ch := range []<-chan broker.Event{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Fatal("expected channel to be closed after Broker.Close")
		}
	}
}
