// Package events fans pipeline notifications out to any number of
// subscribers over buffered channels. Publishing never blocks: a slow
// subscriber loses events rather than stalling the pipeline.
package events

import (
	"log/slog"
	"sync"

	"vitalguard/internal/model"
)

type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan model.Event
	next   int
	closed bool
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{subs: make(map[int]chan model.Event), logger: logger}
}

func (b *Bus) Subscribe(buffer int) (int, <-chan model.Event) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan model.Event, buffer)
	b.subs[id] = ch
	return id, ch
}

func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Bus) Publish(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.logger != nil {
				b.logger.Warn("subscriber buffer full, dropping event", "subscriber", id, "event", ev.EventName())
			}
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
