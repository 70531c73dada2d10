// Package fanout carries gateway events between gateway instances so that a
// connection on any instance sees events produced on every other one.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"assoc-messaging/internal/imtypes"
)

// Handler receives every event published on the bus, including the
// instance's own.
type Handler func(imtypes.Event)

// Bus publishes events to all subscribed gateway instances.
type Bus interface {
	Publish(ctx context.Context, ev imtypes.Event) error
	Subscribe(h Handler) error
	Close() error
}

// Encode is the wire format shared by the network buses.
func Encode(ev imtypes.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return data, nil
}

// Decode parses an event written by Encode.
func Decode(data []byte) (imtypes.Event, error) {
	var ev imtypes.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return imtypes.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return imtypes.Event{}, fmt.Errorf("decode event: missing type")
	}
	return ev, nil
}

// MemoryBus delivers events synchronously inside one process.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, ev imtypes.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.handlers = append(b.handlers, h)
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
