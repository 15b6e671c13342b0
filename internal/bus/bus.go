// Package bus defines the Go-level contract for the "opaque duplex
// byte channel" spec.md §2 places out of scope as an external
// collaborator (the embedding host's postMessage bus) and provides two
// concrete realisations: an in-process ChannelBus (used by the CLI and
// every adapter test) and a gorilla/websocket-backed WebSocketBus,
// enriched from TheEntropyCollective-noisefs's own websocket duplex
// event stream. The Bridge (internal/bridge) is agnostic to which one
// it is given.
package bus

import (
	"context"

	"github.com/rdessert/filebridge/pkg/models"
)

// OutboundMessage is every message the Bridge sends to the transport
// worker side of the bus: `{command, requestId, data}` (spec.md §6).
type OutboundMessage struct {
	Command   string `json:"command"`
	RequestID string `json:"requestId"`
	Data      any    `json:"data,omitempty"`
}

// InboundMessage is every message the Bridge receives back: either a
// terminal backendResponse or a non-terminal backendProgress event
// (spec.md §6).
type InboundMessage struct {
	Command   string               `json:"command"`
	RequestID string               `json:"requestId"`
	Success   bool                 `json:"success,omitempty"`
	Data      any                  `json:"data,omitempty"`
	Error     string               `json:"error,omitempty"`
	Message   string               `json:"message,omitempty"`
	Progress  *models.ProgressInfo `json:"progress,omitempty"`
}

// Terminal reports whether msg carries a response rather than a
// progress event.
func (m InboundMessage) Terminal() bool {
	return m.Progress == nil
}

// DuplexBus is the single duplex channel between the caller and the
// transport-owning worker (spec.md §4.7, §9 "Cyclic references").
type DuplexBus interface {
	// Send delivers an outbound message. It does not block on a reply;
	// correlation and waiting are the Bridge's job.
	Send(ctx context.Context, msg OutboundMessage) error
	// Recv returns the channel of inbound messages. It is closed when
	// the bus is closed.
	Recv() <-chan InboundMessage
	Close() error
}
