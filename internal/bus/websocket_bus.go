package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketBus realises DuplexBus over a gorilla/websocket connection,
// JSON-encoding every OutboundMessage/InboundMessage, the way
// TheEntropyCollective-noisefs's web UI pushes JSON frames over its own
// websocket event stream.
type WebSocketBus struct {
	conn *websocket.Conn

	in chan InboundMessage

	writeMu sync.Mutex
	once    sync.Once
}

// NewWebSocketBus wraps an already-established *websocket.Conn and
// starts its background read loop.
func NewWebSocketBus(conn *websocket.Conn) *WebSocketBus {
	b := &WebSocketBus{
		conn: conn,
		in:   make(chan InboundMessage, 32),
	}
	go b.readLoop()
	return b
}

func (b *WebSocketBus) readLoop() {
	defer close(b.in)
	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("bus: malformed websocket frame, dropping: %v", err)
			continue
		}
		b.in <- msg
	}
}

// Send JSON-encodes msg and writes it as a single websocket text frame.
// Writes are serialised: gorilla/websocket connections are not safe for
// concurrent writers.
func (b *WebSocketBus) Send(ctx context.Context, msg OutboundMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal outbound message: %w", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = b.conn.SetWriteDeadline(deadline)
	}
	return b.conn.WriteMessage(websocket.TextMessage, raw)
}

// Recv returns the channel of decoded inbound messages.
func (b *WebSocketBus) Recv() <-chan InboundMessage {
	return b.in
}

// Close closes the underlying websocket connection. Idempotent.
func (b *WebSocketBus) Close() error {
	var err error
	b.once.Do(func() {
		err = b.conn.Close()
	})
	return err
}
