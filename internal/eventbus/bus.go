// Package eventbus implements a single-threaded, in-process event
// dispatcher. It supersedes the teacher's topic-trie bus
// (jangala-dev-devicecode-go/bus): the domain here has no
// wildcard-topic subscribers, only a fixed set of long-lived component
// handlers that each want every events.Event, so a FIFO queue draining
// into a fixed handler list is the simpler shape.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ttgw-go/internal/events"
)

// Handler receives every event published to the bus, in enqueue order.
type Handler func(events.Event)

// Bus is a FIFO queue feeding a single dedicated worker goroutine that
// iterates registered handlers in order. Registration is not
// deduplicated: each Subscribe call adds an entry, so a handler
// registered twice receives every event twice. A handler added
// mid-dispatch never observes the in-flight event.
type Bus struct {
	log *zap.Logger

	queueMu sync.Mutex
	queue   []events.Event
	notify  chan struct{}

	handlersMu sync.Mutex
	handlers   []Handler
	subs       []*Subscription // subs[i] owns handlers[i]

	stop chan struct{}
	done chan struct{}
}

// New builds a Bus. Run must be called to start the dispatch worker.
func New(log *zap.Logger) *Bus {
	return &Bus{
		log:    log.Named("eventbus"),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Subscribe registers h to receive every future event and returns a
// Subscription that removes it again. Each call adds a new entry, even
// for a handler that is already registered.
func (b *Bus) Subscribe(h Handler) *Subscription {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	s := &Subscription{bus: b}
	b.handlers = append(b.handlers, h)
	b.subs = append(b.subs, s)
	return s
}

// Subscription identifies a previously registered handler so it can be
// removed.
type Subscription struct {
	bus *Bus
}

// Unsubscribe removes the handler. Safe to call once.
func (s *Subscription) Unsubscribe() {
	s.bus.handlersMu.Lock()
	defer s.bus.handlersMu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.handlers = append(s.bus.handlers[:i], s.bus.handlers[i+1:]...)
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues ev for delivery. Never blocks on handler execution.
func (b *Bus) Publish(ev events.Event) {
	b.queueMu.Lock()
	b.queue = append(b.queue, ev)
	b.queueMu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done, delivering each event to the
// handler list as it stood at dispatch time. A handler that panics is
// logged and does not stop the worker or remove the handler.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for {
		b.drain()
		select {
		case <-ctx.Done():
			b.drain()
			return
		case <-b.stop:
			b.drain()
			return
		case <-b.notify:
		}
	}
}

// Stop requests Run to exit after draining whatever is queued.
func (b *Bus) Stop() {
	close(b.stop)
	<-b.done
}

func (b *Bus) drain() {
	for {
		b.queueMu.Lock()
		if len(b.queue) == 0 {
			b.queueMu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.handlersMu.Lock()
		snapshot := make([]Handler, len(b.handlers))
		copy(snapshot, b.handlers)
		b.handlersMu.Unlock()

		for _, h := range snapshot {
			b.dispatchOne(h, ev)
		}
	}
}

func (b *Bus) dispatchOne(h Handler, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked", zap.Any("recover", r), zap.Int("kind", int(ev.Kind)))
		}
	}()
	h(ev)
}
