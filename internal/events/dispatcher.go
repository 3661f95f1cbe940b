package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/mission-engine/internal/logging"
)

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// DeliveryRecorder receives delivery accounting.
type DeliveryRecorder interface {
	IncDelivered(eventType string)
	IncDeliveryFailure(eventType string)
	IncDropped(eventType string)
	SetDegraded(degraded bool)
}

// Dispatcher hands events to a Sink on a background goroutine.
//
// Publish never blocks: when the buffer is full the event is dropped. A
// dropped event or a failed delivery marks the dispatcher degraded; the
// next successful delivery clears it. Failures are logged and counted,
// never retried, and never reach the publisher.
type Dispatcher struct {
	sink    Sink
	log     logging.Logger
	metrics DeliveryRecorder
	timeout time.Duration

	onDegraded func(bool)
	degraded   atomic.Bool

	mu     sync.RWMutex
	ch     chan Event
	closed bool
	done   chan struct{}
	start  sync.Once
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBuffer sets the queue capacity.
func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.ch = make(chan Event, n)
		}
	}
}

// WithDeliveryTimeout bounds each Deliver call.
func WithDeliveryTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l logging.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = logging.OrNoop(l) }
}

// WithDeliveryRecorder attaches metrics.
func WithDeliveryRecorder(r DeliveryRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = r }
}

// OnDegraded registers a callback invoked whenever the degraded flag flips.
func OnDegraded(fn func(degraded bool)) DispatcherOption {
	return func(d *Dispatcher) { d.onDegraded = fn }
}

// NewDispatcher creates a dispatcher for sink. Call Start to begin delivery.
func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		log:     logging.Noop(),
		timeout: 5 * time.Second,
		ch:      make(chan Event, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the delivery goroutine. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	d.start.Do(func() {
		go d.loop(ctx)
	})
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for e := range d.ch {
		d.deliver(ctx, e)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	dctx := context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, d.timeout)
		defer cancel()
	}
	if err := d.sink.Deliver(dctx, e); err != nil {
		d.log.Warn(logging.ContextWithSessionID(ctx, e.SessionID), "event delivery failed",
			logging.String("event_type", string(e.Type)),
			logging.Err(err),
		)
		if d.metrics != nil {
			d.metrics.IncDeliveryFailure(string(e.Type))
		}
		d.setDegraded(true)
		return
	}
	if d.metrics != nil {
		d.metrics.IncDelivered(string(e.Type))
	}
	d.setDegraded(false)
}

// Publish enqueues e. Events published after Close are discarded.
func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- e:
	default:
		d.log.Warn(logging.ContextWithSessionID(context.Background(), e.SessionID), "event buffer full, dropping event",
			logging.String("event_type", string(e.Type)),
		)
		if d.metrics != nil {
			d.metrics.IncDropped(string(e.Type))
		}
		d.setDegraded(true)
	}
}

// Degraded reports whether the most recent delivery attempt failed.
func (d *Dispatcher) Degraded() bool { return d.degraded.Load() }

func (d *Dispatcher) setDegraded(v bool) {
	if d.degraded.Swap(v) == v {
		return
	}
	if d.metrics != nil {
		d.metrics.SetDegraded(v)
	}
	if d.onDegraded != nil {
		d.onDegraded(v)
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end. A dispatcher that was never started is drained
// synchronously.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()

	d.Start(ctx)
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Direct delivers synchronously on the caller's goroutine. It suits
// in-memory sinks; errors are logged and otherwise ignored.
type Direct struct {
	Sink Sink
	Log  logging.Logger
}

// Publish implements Publisher.
func (p Direct) Publish(e Event) {
	if p.Sink == nil {
		return
	}
	if err := p.Sink.Deliver(context.Background(), e); err != nil {
		logging.OrNoop(p.Log).Warn(context.Background(), "event delivery failed",
			logging.String("event_type", string(e.Type)),
			logging.Err(err),
		)
	}
}
