package events

import (
	"sync"
	"time"

	"github.com/aristath/quantlab/internal/progress"
	"github.com/rs/zerolog"
)

// Handler receives events. Handlers run on the emitting goroutine and must
// not block; streaming handlers hand events to a buffered channel.
type Handler func(*Event)

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	byType map[EventType]map[int]Handler
	all    map[int]Handler
	nextID int
	log    zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		byType: make(map[EventType]map[int]Handler),
		all:    make(map[int]Handler),
		log:    log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers h for one event type and returns a function removing it.
func (b *Bus) Subscribe(t EventType, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.byType[t] == nil {
		b.byType[t] = make(map[int]Handler)
	}
	b.byType[t][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byType[t], id)
	}
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(t EventType, module string, data any) {
	b.Publish(&Event{Type: t, Module: module, Timestamp: time.Now(), Data: data})
}

// Publish delivers event to the subscribers of its type, then to the
// catch-all subscribers. A panicking handler is logged and skipped.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byType[event.Type])+len(b.all))
	for _, h := range b.byType[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

func (b *Bus) deliver(h Handler, event *Event) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", p).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.all)
	for _, hs := range b.byType {
		n += len(hs)
	}
	return n
}

// Emitter adapts the bus to progress.Emitter for module.
func (b *Bus) Emitter(module string) progress.Emitter {
	return &moduleEmitter{bus: b, module: module}
}

type moduleEmitter struct {
	bus    *Bus
	module string
}

func (e *moduleEmitter) Emit(event string, data any) {
	e.bus.Emit(EventType(event), e.module, data)
}
