/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"sync"
)

// Ensure BaseEventEmitter implements the EventEmitter interface
var _ EventEmitter = &BaseEventEmitter{}

// Internal events, emitted by connections and frames.
const (
	// Frame

	EventFrameNavigation      string = "navigation"
	EventFrameAddLifecycle    string = "addlifecycle"
	EventFrameDetached        string = "detached"
	EventFrameChildAttached   string = "childattached"
	EventFrameChildDetached   string = "childdetached"
	EventFrameDocumentChanged string = "documentchanged"
)

// Event as emitted by an EventEmitter.
type Event struct {
	typ  string
	data any
}

// NavigationEvent is emitted when a frame committed a new document.
type NavigationEvent struct {
	url      string
	loaderID string
}

// queue holds the events not yet delivered to a handler.
type queue struct {
	mu     sync.Mutex
	events []Event
}

func (q *queue) push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

func (q *queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := q.events[0]
	q.events[0] = Event{}
	q.events = q.events[1:]
	return ev, true
}

type eventHandler struct {
	ctx   context.Context
	ch    chan Event
	queue *queue
	// sendMu keeps deliveries to ch in emit order.
	sendMu sync.Mutex
}

// deliver sends the oldest queued event to the handler. One deliver runs
// per emitted event, so emitting never blocks on a slow handler.
func (eh *eventHandler) deliver() {
	eh.sendMu.Lock()
	defer eh.sendMu.Unlock()

	ev, ok := eh.queue.pop()
	if !ok {
		return
	}
	select {
	case eh.ch <- ev:
	case <-eh.ctx.Done():
	}
}

// EventEmitter that all event emitters need to implement.
type EventEmitter interface {
	emit(event string, data any)
	on(ctx context.Context, events []string, ch chan Event)
	onAll(ctx context.Context, ch chan Event)
}

// syncFunc functions are passed through the syncCh for synchronously handling
// eventHandler requests.
type syncFunc func() (done chan struct{})

// BaseEventEmitter emits events to registered handlers.
type BaseEventEmitter struct {
	handlers    map[string][]*eventHandler
	handlersAll []*eventHandler

	syncCh chan syncFunc
	ctx    context.Context
}

// NewBaseEventEmitter creates a new instance of a base event emitter.
// It stops serving handlers once ctx is done.
func NewBaseEventEmitter(ctx context.Context) BaseEventEmitter {
	bem := BaseEventEmitter{
		handlers: make(map[string][]*eventHandler),
		syncCh:   make(chan syncFunc),
		ctx:      ctx,
	}
	go bem.syncAll(ctx)
	return bem
}

// syncAll receives work requests from BaseEventEmitter methods
// and processes them one at a time for synchronization.
func (e *BaseEventEmitter) syncAll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.syncCh:
			done := fn()
			done <- struct{}{}
		}
	}
}

// sync is a helper for synchronized access to the BaseEventEmitter.
func (e *BaseEventEmitter) sync(fn func()) {
	done := make(chan struct{}, 1)
	select {
	case <-e.ctx.Done():
		return
	case e.syncCh <- func() chan struct{} {
		fn()
		return done
	}:
	}
	<-done
}

func (e *BaseEventEmitter) emit(event string, data any) {
	emitTo := func(handlers []*eventHandler) []*eventHandler {
		for i := 0; i < len(handlers); {
			handler := handlers[i]
			select {
			case <-handler.ctx.Done():
				handlers = append(handlers[:i], handlers[i+1:]...)
				continue
			default:
				handler.queue.push(Event{typ: event, data: data})
				go handler.deliver()
				i++
			}
		}
		return handlers
	}
	e.sync(func() {
		e.handlers[event] = emitTo(e.handlers[event])
		e.handlersAll = emitTo(e.handlersAll)
	})
}

// on registers a handler for specific events.
func (e *BaseEventEmitter) on(ctx context.Context, events []string, ch chan Event) {
	eh := &eventHandler{ctx: ctx, ch: ch, queue: &queue{}}
	e.sync(func() {
		for _, event := range events {
			e.handlers[event] = append(e.handlers[event], eh)
		}
	})
}

// onAll registers a handler for all events.
func (e *BaseEventEmitter) onAll(ctx context.Context, ch chan Event) {
	e.sync(func() {
		e.handlersAll = append(e.handlersAll, &eventHandler{ctx: ctx, ch: ch, queue: &queue{}})
	})
}
