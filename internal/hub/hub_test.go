package hub

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

func TestPublishReachesAllMatchingSubscribers(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	sub1 := h.Subscribe("", "")
	sub2 := h.Subscribe("webrtc-app", "")

	h.Publish(model.Event{Project: "webrtc-app", Event: "CONNECT"})

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case e := <-sub.Events():
			if e.Event != "CONNECT" {
				t.Errorf("sub%d: expected CONNECT, got %s", i+1, e.Event)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("sub%d: timed out", i+1)
		}
	}
}

func TestFilterExcludesNonMatching(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	sub := h.Subscribe("other-app", "")
	h.Publish(model.Event{Project: "webrtc-app", Event: "CONNECT"})

	select {
	case e := <-sub.Events():
		t.Errorf("expected no delivery, got %s", e.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSetFilterRescopesWithoutResubscribe(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	sub := h.Subscribe("other-app", "")
	sub.SetFilter("webrtc-app", "signaling")

	h.Publish(model.Event{Project: "webrtc-app", Feature: "media", Event: "NOPE"})
	h.Publish(model.Event{Project: "webrtc-app", Feature: "signaling", Event: "YES"})

	select {
	case e := <-sub.Events():
		if e.Event != "YES" {
			t.Errorf("expected YES, got %s", e.Event)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	// Subscribe but never read — simulates a slow consumer.
	_ = h.Subscribe("", "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+100; i++ {
			h.Publish(model.Event{Event: "E"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if h.Dropped() == 0 {
		t.Error("expected dropped events for slow subscriber, got 0")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New(zap.NewNop())
	defer h.Close()

	sub := h.Subscribe("", "")
	h.Unsubscribe(sub)

	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", h.Subscribers())
	}

	// Double unsubscribe is a no-op.
	h.Unsubscribe(sub)
}

func TestSubscribeAfterClose(t *testing.T) {
	h := New(zap.NewNop())
	h.Close()

	sub := h.Subscribe("", "")
	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel from a closed hub")
	}

	// Publishing to a closed hub must not panic.
	h.Publish(model.Event{Event: "E"})
}
