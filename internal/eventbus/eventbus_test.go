package eventbus

import (
	"testing"
	"time"

	"github.com/ultracode-dev/forge/internal/forgemodel"
)

func waitFor(t *testing.T, ch <-chan forgemodel.Event) forgemodel.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return forgemodel.Event{}
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe(0)
	s2 := b.Subscribe(0)

	b.Publish(forgemodel.Event{ProjectID: "p1", Type: forgemodel.EventStepStart})

	e1 := waitFor(t, s1.Events)
	e2 := waitFor(t, s2.Events)
	if e1.ProjectID != "p1" || e2.ProjectID != "p1" {
		t.Errorf("expected both subscribers to receive the event, got %+v and %+v", e1, e2)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	s1 := b.Subscribe(0)
	s1.Unsubscribe()

	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}

	b.Publish(forgemodel.Event{Type: forgemodel.EventStepStart})

	if _, ok := <-s1.Events; ok {
		t.Error("expected the unsubscribed channel to be closed")
	}
}

func TestPublishDropsRatherThanBlocksOnFullBuffer(t *testing.T) {
	b := New()
	s := b.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(forgemodel.Event{Type: forgemodel.EventStepStart})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	<-s.Events
}

func TestCloseClosesAllSubscriberChannels(t *testing.T) {
	b := New()
	s1 := b.Subscribe(0)
	s2 := b.Subscribe(0)

	b.Close()

	if _, ok := <-s1.Events; ok {
		t.Error("expected s1's channel to be closed")
	}
	if _, ok := <-s2.Events; ok {
		t.Error("expected s2's channel to be closed")
	}
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	b := New()
	b.Close()

	s := b.Subscribe(0)
	if _, ok := <-s.Events; ok {
		t.Error("expected a post-close subscription to receive an already-closed channel")
	}
}

func TestDoubleUnsubscribeIsSafe(t *testing.T) {
	b := New()
	s := b.Subscribe(0)
	s.Unsubscribe()
	s.Unsubscribe()
}

func TestDoubleCloseIsSafe(t *testing.T) {
	b := New()
	b.Subscribe(0)
	b.Close()
	b.Close()
}
