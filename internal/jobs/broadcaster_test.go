package jobs

import (
	"fmt"
	"testing"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	s1 := b.Register()
	s2 := b.Register()
	b.Subscribe("j1", s1)
	b.Subscribe("j1", s2)

	ev := Event{JobID: "j1", Kind: EventProgress, Progress: &Progress{Total: 5, Processed: 1, Successful: 1}}
	b.Publish("j1", ev)

	for i, s := range []*Subscriber{s1, s2} {
		got := <-s.Events()
		if got.JobID != "j1" || got.Kind != EventProgress || got.Progress.Processed != 1 {
			t.Fatalf("subscriber %d got %+v", i, got)
		}
	}
}

func TestBroadcaster_FIFOPerSubscriber(t *testing.T) {
	b := NewBroadcaster()
	s := b.Register()
	b.Subscribe("j1", s)

	for i := 0; i < 10; i++ {
		b.Publish("j1", Event{JobID: "j1", Kind: EventProgress, Progress: &Progress{Processed: i}})
	}
	for i := 0; i < 10; i++ {
		got := <-s.Events()
		if got.Progress.Processed != i {
			t.Fatalf("event %d out of order: %+v", i, got)
		}
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	s := b.Register()
	b.Subscribe("j1", s)
	b.Unsubscribe("j1", s)

	b.Publish("j1", Event{JobID: "j1", Kind: EventProgress})
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected delivery after unsubscribe: %+v", ev)
	default:
	}
	if n := b.Subscribers("j1"); n != 0 {
		t.Fatalf("empty set not discarded: %d members", n)
	}
}

func TestBroadcaster_PublishToUnknownJob(t *testing.T) {
	b := NewBroadcaster()
	// Must not panic or block.
	b.Publish("ghost", Event{JobID: "ghost", Kind: EventCompleted})
}

func TestBroadcaster_SubscribeUnknownJobYieldsNothing(t *testing.T) {
	b := NewBroadcaster()
	s := b.Register()
	b.Subscribe("finished", s)
	select {
	case ev := <-s.Events():
		t.Fatalf("no replay expected, got %+v", ev)
	default:
	}
}

func TestBroadcaster_RemoveDropsAllSubscriptions(t *testing.T) {
	b := NewBroadcaster()
	s := b.Register()
	b.Subscribe("j1", s)
	b.Subscribe("j2", s)

	b.Remove(s)
	if b.Subscribers("j1") != 0 || b.Subscribers("j2") != 0 {
		t.Fatal("subscriber survived removal")
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("channel not closed on removal")
	}
	// Idempotent.
	b.Remove(s)
	// A removed subscriber cannot re-attach.
	b.Subscribe("j1", s)
	if b.Subscribers("j1") != 0 {
		t.Fatal("removed subscriber re-attached")
	}
}

func TestBroadcaster_SlowSubscriberDropped(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Register()
	fast := b.Register()
	b.Subscribe("j1", slow)
	b.Subscribe("j1", fast)

	// Overflow the slow subscriber's buffer without draining it. The fast
	// one drains as it goes; publishing must never block.
	done := make(chan struct{})
	go func() {
		for range fast.Events() {
		}
		close(done)
	}()
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish("j1", Event{JobID: "j1", Kind: EventProgress, Progress: &Progress{Processed: i}})
	}
	if b.Subscribers("j1") != 1 {
		t.Fatalf("slow subscriber not dropped: %d members", b.Subscribers("j1"))
	}

	// The slow subscriber's channel is closed after its buffered backlog.
	n := 0
	for range slow.Events() {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("expected %d buffered events before close, drained %d", subscriberBuffer, n)
	}
	b.Remove(fast)
	<-done
}

func TestBroadcaster_ManySubscribersManyJobs(t *testing.T) {
	b := NewBroadcaster()
	subs := make([]*Subscriber, 4)
	for i := range subs {
		subs[i] = b.Register()
		for j := 0; j < 3; j++ {
			b.Subscribe(fmt.Sprintf("job-%d", j), subs[i])
		}
	}
	b.Publish("job-1", Event{JobID: "job-1", Kind: EventFailed, Error: "cancelled by user"})
	for i, s := range subs {
		got := <-s.Events()
		if got.JobID != "job-1" || got.Kind != EventFailed {
			t.Fatalf("subscriber %d: %+v", i, got)
		}
	}
}
