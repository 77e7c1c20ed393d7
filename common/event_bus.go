package common

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/liuxd6825/k6browser/log"
)

// EventKind names a browser originated notification.
type EventKind string

// Event kinds published on page and context buses.
const (
	EventKindDialog   EventKind = "dialog"
	EventKindPopup    EventKind = "popup"
	EventKindDownload EventKind = "download"
	EventKindPage     EventKind = "page"
	EventKindClose    EventKind = "close"
)

// ErrSubscriptionCanceled is returned by Wait on a canceled subscription.
var ErrSubscriptionCanceled = errors.New("subscription canceled")

type busResult struct {
	payload any
	err     error
}

// Subscription is a one-shot registration for the first event of a kind
// that satisfies its predicate. Events published after registration and
// before Wait are kept, so none is lost in between.
type Subscription struct {
	id        string
	kind      EventKind
	predicate func(any) bool
	bus       *EventBus

	ch   chan busResult
	once sync.Once
}

// ID returns the unique id of the subscription.
func (s *Subscription) ID() string { return s.id }

// Kind returns the kind of event the subscription waits for.
func (s *Subscription) Kind() EventKind { return s.kind }

// Wait blocks until the subscription is fulfilled or ctx is done. Either
// way the subscription is removed from its bus.
func (s *Subscription) Wait(ctx context.Context) (any, error) {
	defer s.Cancel()

	select {
	case r := <-s.ch:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel removes the subscription. A pending Wait returns
// ErrSubscriptionCanceled.
func (s *Subscription) Cancel() {
	s.bus.remove(s)
	s.fulfil(nil, ErrSubscriptionCanceled)
}

// fulfil hands over the result unless one was handed over before.
func (s *Subscription) fulfil(payload any, err error) bool {
	delivered := false
	s.once.Do(func() {
		s.ch <- busResult{payload: payload, err: err}
		delivered = true
	})
	return delivered
}

func (s *Subscription) matches(payload any) bool {
	return s.predicate == nil || s.predicate(payload)
}

type listener struct {
	id int64
	fn func(any)
}

// EventBus delivers notifications to one-shot subscriptions and to
// persistent listeners. Listeners run one at a time, in publish order, on
// a worker goroutine owned by the bus.
type EventBus struct {
	mu        sync.Mutex
	subs      map[EventKind][]*Subscription
	listeners map[EventKind][]listener
	nextID    int64
	closed    bool
	closeErr  error

	jobsMu  sync.Mutex
	jobs    []func()
	notify  chan struct{}
	stop    chan struct{}
	started bool

	logger *log.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *log.Logger) *EventBus {
	return &EventBus{
		subs:      make(map[EventKind][]*Subscription),
		listeners: make(map[EventKind][]listener),
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		logger:    logger,
	}
}

// Subscribe registers a one-shot subscription for kind. A nil predicate
// matches every event. Subscribing to a closed bus yields a subscription
// that fails with the close error.
func (b *EventBus) Subscribe(kind EventKind, predicate func(any) bool) *Subscription {
	s := &Subscription{
		id:        uuid.NewString(),
		kind:      kind,
		predicate: predicate,
		bus:       b,
		ch:        make(chan busResult, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.fulfil(nil, b.closeErr)
		return s
	}
	b.subs[kind] = append(b.subs[kind], s)
	b.logger.Debugf("EventBus:Subscribe", "kind:%s sid:%s", kind, s.id)

	return s
}

// On registers fn for every event of kind until the returned func is
// called or the bus is closed.
func (b *EventBus) On(kind EventKind, fn func(any)) (remove func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], listener{id: id, fn: fn})
	if !b.started {
		b.started = true
		go b.work()
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		ls := b.listeners[kind]
		for i, l := range ls {
			if l.id == id {
				b.listeners[kind] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers payload to every matching subscription and queues it
// for every listener of kind. It returns the number of deliveries.
func (b *EventBus) Publish(kind EventKind, payload any) int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	subs := append([]*Subscription(nil), b.subs[kind]...)
	ls := append([]listener(nil), b.listeners[kind]...)
	b.mu.Unlock()

	// Predicates may call back into the bus.
	delivered := 0
	for _, s := range subs {
		if !s.matches(payload) {
			continue
		}
		if s.fulfil(payload, nil) {
			b.remove(s)
			delivered++
		}
	}
	for _, l := range ls {
		fn := l.fn
		b.enqueue(func() { fn(payload) })
		delivered++
	}
	b.logger.Debugf("EventBus:Publish", "kind:%s subs:%d listeners:%d delivered:%d", kind, len(subs), len(ls), delivered)

	return delivered
}

// Close fails pending subscriptions with err and stops the listener worker
// once it has run the queued listeners.
func (b *EventBus) Close(err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.closeErr = err
	subs := b.subs
	b.subs = make(map[EventKind][]*Subscription)
	b.listeners = make(map[EventKind][]listener)
	b.mu.Unlock()

	for _, ss := range subs {
		for _, s := range ss {
			s.fulfil(nil, err)
		}
	}
	close(b.stop)
}

func (b *EventBus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ss := b.subs[s.kind]
	for i, o := range ss {
		if o == s {
			b.subs[s.kind] = append(ss[:i:i], ss[i+1:]...)
			return
		}
	}
}

func (b *EventBus) enqueue(job func()) {
	b.jobsMu.Lock()
	b.jobs = append(b.jobs, job)
	b.jobsMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *EventBus) next() (func(), bool) {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()

	if len(b.jobs) == 0 {
		return nil, false
	}
	job := b.jobs[0]
	b.jobs[0] = nil
	b.jobs = b.jobs[1:]
	return job, true
}

func (b *EventBus) work() {
	for {
		for job, ok := b.next(); ok; job, ok = b.next() {
			job()
		}
		select {
		case <-b.notify:
		case <-b.stop:
			for job, ok := b.next(); ok; job, ok = b.next() {
				job()
			}
			return
		}
	}
}
