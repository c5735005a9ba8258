package common

import (
	"context"
	"sync"

	"github.com/grafana/xk6-compositor/memory"
)

const (
	// EventPaintMetric is emitted when a paint metric is sent.
	EventPaintMetric string = "paintmetric"

	// EventAnimationTick is emitted for every animation tick.
	EventAnimationTick string = "animationtick"

	// EventScrollStates is emitted after the compositor scrolled a pipeline.
	EventScrollStates string = "scrollstates"

	// EventMemoryPressure is emitted when the memory pressure level changes.
	EventMemoryPressure string = "memorypressure"
)

// Event as emitted by an EventEmitter.
type Event struct {
	Type string
	Data any
}

// AnimationTickEvent is the data of EventAnimationTick.
type AnimationTickEvent struct {
	Pipeline PipelineID
	Type     AnimationTickType
}

// ScrollStatesEvent is the data of EventScrollStates.
type ScrollStatesEvent struct {
	Pipeline PipelineID
	States   []ScrollState
}

// MemoryPressureEvent is the data of EventMemoryPressure.
type MemoryPressureEvent struct {
	Level       memory.Level
	CacheFactor float64
}

type queue struct {
	writeMutex sync.Mutex
	write      []Event
	readMutex  sync.Mutex
	read       []Event
}

type eventHandler struct {
	ctx   context.Context
	ch    chan Event
	queue *queue
}

// EventEmitter that all event emitters need to implement.
type EventEmitter interface {
	Emit(event string, data any)
	On(ctx context.Context, events []string, ch chan Event)
	OnAll(ctx context.Context, ch chan Event)
}

// syncFunc functions are passed through the syncCh for synchronously handling
// eventHandler requests.
type syncFunc func() (done chan struct{})

// BaseEventEmitter emits events to registered handlers. Emit never waits
// for a handler to read: every handler has its own queue.
type BaseEventEmitter struct {
	handlers    map[string][]*eventHandler
	handlersAll []*eventHandler

	queues map[chan Event]*queue

	syncCh chan syncFunc
	ctx    context.Context
}

// NewBaseEventEmitter creates a new instance of a base event emitter.
func NewBaseEventEmitter(ctx context.Context) *BaseEventEmitter {
	bem := &BaseEventEmitter{
		handlers: make(map[string][]*eventHandler),
		syncCh:   make(chan syncFunc),
		ctx:      ctx,
		queues:   make(map[chan Event]*queue),
	}
	go bem.syncAll(ctx)
	return bem
}

// syncAll receives work requests from BaseEventEmitter methods
// and processes them one at a time for synchronization.
//
// It returns when the BaseEventEmitter context is done.
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
	done := make(chan struct{})
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

// Emit queues the event for every handler of event and every catch-all
// handler. Handlers whose context is done are dropped.
func (e *BaseEventEmitter) Emit(event string, data any) {
	emitEvent := func(eh *eventHandler) {
		eh.queue.readMutex.Lock()
		defer eh.queue.readMutex.Unlock()

		// Refill the read side from the write side when it runs dry.
		// Each emit starts one of these goroutines per handler and each
		// delivers the head of the queue, so order is preserved.
		if len(eh.queue.read) == 0 {
			eh.queue.writeMutex.Lock()
			eh.queue.read, eh.queue.write = eh.queue.write, eh.queue.read
			eh.queue.writeMutex.Unlock()
		}

		select {
		case eh.ch <- eh.queue.read[0]:
			eh.queue.read = eh.queue.read[1:]
		case <-eh.ctx.Done():
		}
	}
	emitTo := func(handlers []*eventHandler) (updated []*eventHandler) {
		for i := 0; i < len(handlers); {
			handler := handlers[i]
			select {
			case <-handler.ctx.Done():
				handlers = append(handlers[:i], handlers[i+1:]...)
				continue
			default:
				handler.queue.writeMutex.Lock()
				handler.queue.write = append(handler.queue.write, Event{Type: event, Data: data})
				handler.queue.writeMutex.Unlock()

				go emitEvent(handler)
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

// On registers a handler for specific events.
func (e *BaseEventEmitter) On(ctx context.Context, events []string, ch chan Event) {
	e.sync(func() {
		q, ok := e.queues[ch]
		if !ok {
			q = &queue{}
			e.queues[ch] = q
		}

		for _, event := range events {
			e.handlers[event] = append(e.handlers[event], &eventHandler{ctx: ctx, ch: ch, queue: q})
		}
	})
}

// OnAll registers a handler for all events.
func (e *BaseEventEmitter) OnAll(ctx context.Context, ch chan Event) {
	e.sync(func() {
		q, ok := e.queues[ch]
		if !ok {
			q = &queue{}
			e.queues[ch] = q
		}

		e.handlersAll = append(e.handlersAll, &eventHandler{ctx: ctx, ch: ch, queue: q})
	})
}

// EventConstellation turns compositor notifications into emitted events so
// several consumers (transport, metrics, tests) can observe them.
type EventConstellation struct {
	*BaseEventEmitter
}

var (
	_ Constellation         = (*EventConstellation)(nil)
	_ MemoryPressureHandler = (*EventConstellation)(nil)
)

// NewEventConstellation creates an emitter-backed Constellation.
func NewEventConstellation(ctx context.Context) *EventConstellation {
	return &EventConstellation{BaseEventEmitter: NewBaseEventEmitter(ctx)}
}

// PaintMetric emits EventPaintMetric.
func (c *EventConstellation) PaintMetric(ev PaintMetricEvent) {
	c.Emit(EventPaintMetric, ev)
}

// AnimationTick emits EventAnimationTick.
func (c *EventConstellation) AnimationTick(id PipelineID, typ AnimationTickType) {
	c.Emit(EventAnimationTick, AnimationTickEvent{Pipeline: id, Type: typ})
}

// ScrollStates emits EventScrollStates.
func (c *EventConstellation) ScrollStates(id PipelineID, states []ScrollState) {
	c.Emit(EventScrollStates, ScrollStatesEvent{Pipeline: id, States: states})
}

// HandleMemoryPressure emits EventMemoryPressure.
func (c *EventConstellation) HandleMemoryPressure(level memory.Level, factor float64) {
	c.Emit(EventMemoryPressure, MemoryPressureEvent{Level: level, CacheFactor: factor})
}
