package ws

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	messages [][]byte
	sendErr  error
	closed   bool
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages = append(f.messages, payload)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// stalledSubscriber blocks inside Send until the hub closes it, the way a
// peer that stopped reading keeps a websocket write hanging.
type stalledSubscriber struct {
	unblock  chan struct{}
	mu       sync.Mutex
	attempts int
	closed   bool
}

func newStalledSubscriber() *stalledSubscriber {
	return &stalledSubscriber{unblock: make(chan struct{})}
}

func (s *stalledSubscriber) Send([]byte) error {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	<-s.unblock
	return errors.New("connection closed")
}

func (s *stalledSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.unblock)
	}
}

func (s *stalledSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stalledSubscriber) sendAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHubBroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	first := &fakeSubscriber{}
	second := &fakeSubscriber{}
	hub.Register(first)
	hub.Register(second)

	hub.Broadcast([]byte(`{"event":"published"}`))

	waitFor(t, func() bool { return first.received() == 1 && second.received() == 1 })
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	sub := &fakeSubscriber{}
	hub.Register(sub)

	hub.Broadcast([]byte("one"))
	waitFor(t, func() bool { return sub.received() == 1 })

	// Unregister is processed before any later broadcast, so the second
	// payload can never reach the removed subscriber.
	hub.Unregister(sub)
	hub.Broadcast([]byte("two"))

	waitFor(t, func() bool { return sub.isClosed() })
	if got := sub.received(); got != 1 {
		t.Fatalf("expected 1 message after unregister, got %d", got)
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	healthy := &fakeSubscriber{}
	broken := &fakeSubscriber{sendErr: errors.New("write: broken pipe")}
	hub.Register(healthy)
	hub.Register(broken)

	hub.Broadcast([]byte("one"))
	waitFor(t, func() bool { return healthy.received() == 1 && broken.isClosed() })

	hub.Broadcast([]byte("two"))
	waitFor(t, func() bool { return healthy.received() == 2 })
	if broken.received() != 0 {
		t.Fatalf("broken subscriber should receive nothing, got %d", broken.received())
	}
}

func TestHubDropsStalledSubscriberWithoutBlocking(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	stalled := newStalledSubscriber()
	hub.Register(stalled)

	// First payload wedges the stalled writer inside Send; the rest fill
	// its queue until the hub gives up on it. None of these calls may
	// block the broadcaster.
	total := subscriberQueueSize + 2
	deliveredAll := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			hub.Broadcast([]byte(fmt.Sprintf("event-%d", i)))
		}
		close(deliveredAll)
	}()

	select {
	case <-deliveredAll:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked behind stalled subscriber")
	}

	waitFor(t, func() bool { return stalled.isClosed() })

	// The hub keeps serving other subscribers after the drop.
	healthy := &fakeSubscriber{}
	hub.Register(healthy)
	hub.Broadcast([]byte("after-drop"))
	waitFor(t, func() bool { return healthy.received() == 1 })
	if got := stalled.sendAttempts(); got != 1 {
		t.Fatalf("dropped subscriber must see no further sends, attempts = %d", got)
	}
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	hub := NewHub()
	sub := &fakeSubscriber{}
	hub.Register(sub)

	hub.Broadcast([]byte("one"))
	waitFor(t, func() bool { return sub.received() == 1 })

	hub.Close()
	waitFor(t, func() bool { return sub.isClosed() })

	// Post-close operations return immediately instead of blocking on a
	// stopped dispatch loop.
	hub.Broadcast([]byte("two"))
	hub.Unregister(sub)
	late := &fakeSubscriber{}
	hub.Register(late)
	waitFor(t, func() bool { return late.isClosed() })
	if got := sub.received(); got != 1 {
		t.Fatalf("expected no delivery after close, got %d", got)
	}
}
