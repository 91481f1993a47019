package bus

import (
	"context"
	"sync"
)

// inboundQueueSize and outboundQueueSize bound how many messages can be
// buffered between a channel's Start goroutine and the gateway's dispatch
// loop before PublishInbound/PublishOutbound start blocking the caller.
const (
	inboundQueueSize  = 256
	outboundQueueSize = 256
)

// MessageBus is the concrete in-process implementation of MessageRouter and
// EventPublisher: a single inbound queue feeding the agent runtime, a single
// outbound queue feeding channel Send() calls, and a fan-out registry for
// server-sent events (settings UI, websocket clients).
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string]EventHandler
}

// NewMessageBus creates a MessageBus ready to route messages and events.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundQueueSize),
		outbound: make(chan OutboundMessage, outboundQueueSize),
		subs:     make(map[string]EventHandler),
	}
}

// PublishInbound enqueues a message received from a channel for the gateway's
// dispatch loop. Blocks if the queue is full, applying natural backpressure
// to slow channel adapters rather than dropping messages.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is cancelled.
// The second return value is false only when ctx ended the wait.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a reply for delivery back to its origin channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// SubscribeOutbound blocks until an outbound message is available or ctx is
// cancelled. Each gateway dispatch loop calls this once per send cycle and
// routes the result to the matching channel's Send method.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers handler under id to receive every broadcast Event.
// A second Subscribe with the same id replaces the previous handler.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes the handler registered under id, if any.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers event to every current subscriber synchronously. A
// blocking handler stalls the broadcaster; callers that need to publish
// from hot paths should give their handler an internal queue.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
