// Package bus connects the gateway to the engine. Gateway events flow in on
// one buffered channel and replies flow back out on another, so neither side
// blocks on the other's network calls.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

const defaultBuffer = 100

// MessageBus is safe for concurrent use. After Close, publishes fail with
// ErrBusClosed and consumers see ok == false.
type MessageBus struct {
	inbound  chan Event
	outbound chan OutboundMessage
	done     chan struct{}
	closed   atomic.Bool
}

func NewMessageBus() *MessageBus {
	return NewMessageBusSize(defaultBuffer)
}

// NewMessageBusSize returns a bus whose channels buffer size events each.
func NewMessageBusSize(size int) *MessageBus {
	if size <= 0 {
		size = defaultBuffer
	}
	return &MessageBus{
		inbound:  make(chan Event, size),
		outbound: make(chan OutboundMessage, size),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, ev Event) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.inbound <- ev:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-mb.inbound:
		return ev, ok
	case <-mb.done:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.outbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
