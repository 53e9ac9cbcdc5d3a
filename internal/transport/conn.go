package transport

import (
	"errors"

	"github.com/harichopper/connect-world/internal/protocol"
)

// ErrNotConnected is returned by Emit while the link is down. Acknowledged
// requests never return it; they resolve their callback instead.
var ErrNotConnected = errors.New("not connected")

// Emitter is the injected connection handle handed to the mutation pipeline
// and the reconciliation engine. Nothing reads the socket from ambient
// state; whoever needs to talk to the server holds one of these.
type Emitter interface {
	// Emit sends a fire-and-forget event.
	Emit(event protocol.EventType, payload any) error
	// Request sends an acknowledged event. cb fires exactly once: with the
	// server's ack, a timeout ack, or a connection-lost ack.
	Request(event protocol.EventType, payload any, cb func(protocol.Ack))
}
