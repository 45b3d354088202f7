package broadcast

import (
	"testing"
	"time"
)

func recv[T any](t *testing.T, s *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-s.C():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func expectClosed[T any](t *testing.T, s *Subscription[T]) {
	t.Helper()
	select {
	case _, ok := <-s.C():
		if ok {
			t.Fatal("expected closed channel, got value")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestReplayAndDedupe(t *testing.T) {
	h := New(WithReplay[string](), WithDedupe(func(a, b string) bool { return a == b }), WithInitial("down"))

	s := h.Subscribe()
	defer s.Close()
	if got := recv(t, s); got != "down" {
		t.Fatalf("expected replayed current value, got %q", got)
	}

	if h.Publish("down") {
		t.Error("duplicate publish should be suppressed")
	}
	if !h.Publish("up") {
		t.Error("state change should publish")
	}
	if got := recv(t, s); got != "up" {
		t.Fatalf("expected up, got %q", got)
	}
}

func TestOrderingUnderSlowReader(t *testing.T) {
	h := New[int]()
	s := h.Subscribe()
	defer s.Close()

	for i := 0; i < 500; i++ {
		h.Publish(i)
	}
	for i := 0; i < 500; i++ {
		if got := recv(t, s); got != i {
			t.Fatalf("out of order: got %d want %d", got, i)
		}
	}
}

func TestCloseOneSubscriptionLeavesOthers(t *testing.T) {
	h := New[int]()
	a := h.Subscribe()
	b := h.Subscribe()
	defer b.Close()

	a.Close()
	expectClosed(t, a)

	h.Publish(7)
	if got := recv(t, b); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if h.Len() != 1 {
		t.Errorf("expected 1 live subscription, got %d", h.Len())
	}
}

func TestHubCloseDrainsThenEnds(t *testing.T) {
	h := New[int]()
	s := h.Subscribe()
	h.Publish(1)
	h.Publish(2)
	h.Close()

	if recv(t, s) != 1 || recv(t, s) != 2 {
		t.Fatal("queued values should be delivered before end-of-stream")
	}
	expectClosed(t, s)

	late := h.Subscribe()
	expectClosed(t, late)
	h.Close()
}
