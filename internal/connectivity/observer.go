package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/nghyane/gameday-net/internal/broadcast"
	log "github.com/nghyane/gameday-net/internal/logging"
)

const defaultProbeInterval = 5 * time.Second

// Observer polls a Prober and broadcasts status transitions. New subscribers
// receive the current status immediately, then changes only.
type Observer struct {
	prober   Prober
	interval time.Duration
	hub      *broadcast.Hub[Status]

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewObserver(prober Prober, interval time.Duration) *Observer {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &Observer{
		prober:   prober,
		interval: interval,
		hub: broadcast.New(
			broadcast.WithReplay[Status](),
			broadcast.WithDedupe(func(a, b Status) bool { return a == b }),
			broadcast.WithInitial(StatusDisconnected),
		),
	}
}

// Start probes once synchronously, so CurrentStatus is accurate on return,
// then keeps polling in the background. Calling Start twice is a no-op.
func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.hub.Reopen()
	o.update(o.prober.Probe(ctx))

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true
	go o.loop(loopCtx, o.done)
}

// Stop halts polling and ends every open status stream. Idempotent.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done
	o.hub.Close()
}

// CurrentStatus returns the latest observed status.
func (o *Observer) CurrentStatus() Status {
	s, _ := o.hub.Current()
	return s
}

// StatusStream opens an independent subscription. Close it when done.
func (o *Observer) StatusStream() *broadcast.Subscription[Status] {
	return o.hub.Subscribe()
}

// Recheck probes immediately instead of waiting for the next tick.
func (o *Observer) Recheck(ctx context.Context) Status {
	s := o.prober.Probe(ctx)
	o.update(s)
	return s
}

func (o *Observer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := o.prober.Probe(ctx)
			if ctx.Err() != nil {
				return
			}
			o.update(status)
		}
	}
}

func (o *Observer) update(s Status) {
	if o.hub.Publish(s) {
		log.WithField("status", s.String()).Info("connectivity changed")
	}
}
