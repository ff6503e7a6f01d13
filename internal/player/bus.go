package player

import (
	"sort"
	"sync"
)

// Handler receives the payload of one event.
type Handler func(payload any)

// Token identifies a subscription.
type Token struct {
	event Event
	id    uint64
}

// Source is the subscription contract of an event emitter.
type Source interface {
	On(event Event, h Handler) Token
	Off(tok Token)
}

// Bus is an in-process Source. Handlers run synchronously on the emitting
// goroutine, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[Event]map[uint64]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Event]map[uint64]Handler)}
}

// On subscribes h to event.
func (b *Bus) On(event Event, h Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[uint64]Handler)
	}
	b.handlers[event][b.next] = h
	return Token{event: event, id: b.next}
}

// Off removes a subscription. Unknown tokens are ignored.
func (b *Bus) Off(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers[tok.event], tok.id)
}

// Emit delivers payload to the subscribers of event.
func (b *Bus) Emit(event Event, payload any) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.handlers[event]))
	for id := range b.handlers[event] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]Handler, len(ids))
	for i, id := range ids {
		hs[i] = b.handlers[event][id]
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
}

// Subscribers returns the number of handlers of event.
func (b *Bus) Subscribers(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}
