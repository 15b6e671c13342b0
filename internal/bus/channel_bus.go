package bus

import (
	"context"
	"errors"
	"sync"
)

// ChannelBus is an in-process DuplexBus: the CLI and every adapter test
// wire a pair of ChannelBus values directly to the worker side instead
// of going over a real socket. Send on one half is delivered to the
// other half's Recv channel.
type ChannelBus struct {
	out     chan InboundMessage
	peer    *ChannelBus
	closeMu sync.Mutex
	closed  bool
}

// NewChannelPair returns two ChannelBus halves wired to each other:
// messages Sent on a are Received on b, and vice versa.
func NewChannelPair(buffer int) (a, b *ChannelBus) {
	a = &ChannelBus{out: make(chan InboundMessage, buffer)}
	b = &ChannelBus{out: make(chan InboundMessage, buffer)}
	a.peer = b
	b.peer = a
	return a, b
}

// ErrBusClosed is returned by Send after Close.
var ErrBusClosed = errors.New("bus: closed")

// Send converts msg to an InboundMessage (peeling off the outbound
// envelope is the responsibility of whichever side interprets it —
// the in-process bus only forwards the pairing of fields; the worker
// side is expected to know how to read command/data directly) and
// delivers it to the peer's Recv channel.
func (c *ChannelBus) Send(ctx context.Context, msg OutboundMessage) error {
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return ErrBusClosed
	}

	delivered := InboundMessage{Command: msg.Command, RequestID: msg.RequestID, Data: msg.Data}
	select {
	case c.peer.out <- delivered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendInbound lets the worker side of a ChannelBus push a response or
// progress event directly, bypassing the OutboundMessage->InboundMessage
// reinterpretation Send performs (used by test doubles and the
// in-process transport adapters driving this bus). Like Send, it
// delivers to the peer's inbox — the worker side calls this on its own
// ChannelBus half to reach whichever half the Bridge is listening on.
func (c *ChannelBus) SendInbound(ctx context.Context, msg InboundMessage) error {
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return ErrBusClosed
	}
	select {
	case c.peer.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns this half's inbound channel.
func (c *ChannelBus) Recv() <-chan InboundMessage {
	return c.out
}

// Close closes this half's inbound channel. Closing is idempotent.
func (c *ChannelBus) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.out)
	return nil
}
