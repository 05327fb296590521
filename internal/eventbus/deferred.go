package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// deferredTrigger is a queued TriggerDefer call.
type deferredTrigger struct {
	name string
	args []any

	// marker is closed instead of triggering when set.
	marker chan struct{}
}

// deferQueue runs deferred triggers in FIFO order on a single worker.
// The worker starts with the first pushed trigger.
type deferQueue struct {
	bus *Eventbus

	mu      sync.Mutex
	queue   []deferredTrigger
	started bool
	closed  bool

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

func newDeferQueue(bus *Eventbus) *deferQueue {
	return &deferQueue{
		bus:    bus,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (q *deferQueue) push(name string, args []any) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.bus.logger.Warn("deferred trigger dropped, eventbus closed", zap.String("event", name))
		return
	}
	q.queue = append(q.queue, deferredTrigger{name: name, args: args})
	if !q.started {
		q.started = true
		go q.run()
	}
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *deferQueue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.signal:
			q.drain()
		case <-q.stop:
			q.drain()
			return
		}
	}
}

func (q *deferQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		t := q.queue[0]
		q.queue[0] = deferredTrigger{}
		q.queue = q.queue[1:]
		q.mu.Unlock()

		if t.marker != nil {
			close(t.marker)
			continue
		}
		if err := q.bus.Trigger(t.name, t.args...); err != nil {
			q.bus.logger.Error("deferred trigger failed", zap.String("event", t.name), zap.Error(err))
		}
	}
}

func (q *deferQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// close stops the worker after the queue drains. It is safe to call more than once.
func (q *deferQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	if !started {
		return
	}
	close(q.stop)
	<-q.done
}

// Flush blocks until every trigger queued before the call has run.
func (b *Eventbus) Flush() {
	q := b.deferred
	marker := make(chan struct{})

	q.mu.Lock()
	if q.closed || !q.started {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, deferredTrigger{marker: marker})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	<-marker
}
