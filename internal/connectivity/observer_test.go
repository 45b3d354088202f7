package connectivity

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nghyane/gameday-net/internal/broadcast"
)

type scriptedProber struct {
	status atomic.Int32
	calls  atomic.Int32
}

func (p *scriptedProber) Probe(context.Context) Status {
	p.calls.Add(1)
	return Status(p.status.Load())
}

func (p *scriptedProber) set(s Status) { p.status.Store(int32(s)) }

func next(t *testing.T, sub *broadcast.Subscription[Status]) Status {
	t.Helper()
	select {
	case s, ok := <-sub.C():
		if !ok {
			t.Fatal("stream ended unexpectedly")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status")
	}
	return StatusDisconnected
}

func TestObserverEmitsCurrentThenTransitions(t *testing.T) {
	p := &scriptedProber{}
	p.set(StatusConnected)
	o := NewObserver(p, 10*time.Millisecond)
	o.Start(context.Background())
	defer o.Stop()

	if o.CurrentStatus() != StatusConnected {
		t.Fatalf("expected connected after Start, got %v", o.CurrentStatus())
	}

	sub := o.StatusStream()
	defer sub.Close()
	if got := next(t, sub); got != StatusConnected {
		t.Fatalf("first value should be current status, got %v", got)
	}

	time.Sleep(50 * time.Millisecond)
	p.set(StatusDisconnected)
	if got := next(t, sub); got != StatusDisconnected {
		t.Fatalf("expected disconnected, got %v", got)
	}

	select {
	case s := <-sub.C():
		t.Fatalf("unexpected duplicate emission %v", s)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestObserverIndependentSubscribers(t *testing.T) {
	p := &scriptedProber{}
	p.set(StatusConnected)
	o := NewObserver(p, 10*time.Millisecond)
	o.Start(context.Background())
	defer o.Stop()

	a := o.StatusStream()
	b := o.StatusStream()
	defer b.Close()
	next(t, a)
	next(t, b)

	a.Close()
	p.set(StatusRequiresConnection)
	if got := next(t, b); got != StatusRequiresConnection {
		t.Fatalf("expected requires_connection, got %v", got)
	}
}

func TestObserverStopEndsStreams(t *testing.T) {
	p := &scriptedProber{}
	o := NewObserver(p, 10*time.Millisecond)
	o.Start(context.Background())
	sub := o.StatusStream()
	next(t, sub)

	o.Stop()
	o.Stop()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected end of stream")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed by Stop")
	}
}

func TestObserverRestart(t *testing.T) {
	p := &scriptedProber{}
	p.set(StatusConnected)
	o := NewObserver(p, 10*time.Millisecond)
	o.Start(context.Background())
	o.Stop()
	o.Start(context.Background())
	defer o.Stop()

	sub := o.StatusStream()
	defer sub.Close()
	if got := next(t, sub); got != StatusConnected {
		t.Fatalf("expected connected after restart, got %v", got)
	}
}

func TestNetProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	fakeIface := func() ([]net.Interface, error) { return nil, nil }
	p := NewNetProber(ln.Addr().String(), time.Second)
	p.interfaces = fakeIface
	if got := p.Probe(context.Background()); got != StatusDisconnected {
		t.Errorf("no interfaces should mean disconnected, got %v", got)
	}
}
