package krist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"krist-payout/internal/observability"
)

// listener is one registered event handler with its own queue.
type listener struct {
	event   string
	handler Handler
	queue   chan json.RawMessage
}

// dispatcher fans push events out to listeners. Each listener runs on its
// own goroutine and sees events in arrival order; dispatch never waits
// for a handler to finish, only for room in its queue. Events queue up
// but no handler runs until release is called.
type dispatcher struct {
	logger    *slog.Logger
	metrics   *observability.Metrics
	queueSize int

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	ready       chan struct{}
	releaseOnce sync.Once

	mu        sync.RWMutex
	listeners []*listener
}

func newDispatcher(logger *slog.Logger, metrics *observability.Metrics, queueSize int) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcher{
		logger:    logger,
		metrics:   metrics,
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
	}
}

// release lets handlers start running.
func (d *dispatcher) release() {
	d.releaseOnce.Do(func() {
		close(d.ready)
	})
}

// subscribe registers h for event. It reports false once the dispatcher
// has been stopped.
func (d *dispatcher) subscribe(event string, h Handler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil {
		return false
	}

	l := &listener{
		event:   event,
		handler: h,
		queue:   make(chan json.RawMessage, d.queueSize),
	}
	d.listeners = append(d.listeners, l)

	d.wg.Add(1)
	go d.run(l)
	return true
}

// dispatch queues payload for every listener of event, in registration
// order, and returns how many listeners it was queued for.
func (d *dispatcher) dispatch(event string, payload json.RawMessage) int {
	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()

	n := 0
	for _, l := range listeners {
		if l.event != event {
			continue
		}
		// Block until there is room - never drop events
		select {
		case l.queue <- payload:
			n++
		case <-d.ctx.Done():
			return n
		}
	}
	return n
}

// close cancels the handler context and stops accepting listeners.
// Events still queued are discarded.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()
}

// wait blocks until every worker has returned.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

func (d *dispatcher) run(l *listener) {
	defer d.wg.Done()

	select {
	case <-d.ready:
	case <-d.ctx.Done():
		return
	}

	for {
		select {
		case <-d.ctx.Done():
			return
		case payload := <-l.queue:
			if err := d.invoke(l, payload); err != nil {
				d.metrics.RecordHandlerError(l.event)
				d.logger.Warn("event handler failed", "event", l.event, "error", err)
			}
		}
	}
}

// invoke runs one handler call, turning a panic into an error.
func (d *dispatcher) invoke(l *listener, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler(d.ctx, payload)
}
