package gossip

import (
	"context"
	"errors"
)

// ErrUnreachable marks a delivery failure that retrying cannot fix, such as a
// neighbor address that does not resolve. Senders wrap it; the Broadcaster
// treats it as fatal.
var ErrUnreachable = errors.New("gossip: neighbor unreachable")

// Sender delivers msg to the neighbor listening on addr and returns its reply.
// It must honor ctx's deadline; the Broadcaster owns timeouts and retries.
type Sender interface {
	Send(ctx context.Context, addr string, msg Message) (Message, error)
}

// Handler consumes inbound messages. The returned reply, if any, is sent back
// to the originator by request/response transports.
type Handler interface {
	OnMessage(msg Message) (Message, bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Message) (Message, bool)

func (f HandlerFunc) OnMessage(msg Message) (Message, bool) { return f(msg) }
