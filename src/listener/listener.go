package listener

import (
	"github.com/orchestra-mcp/socket/src/channel"
	"github.com/orchestra-mcp/socket/src/packet"
	"github.com/orchestra-mcp/socket/src/types"
)

// Connection is the view of a client that listeners and handlers receive.
type Connection interface {
	ID() string
	UserID() string
	Identity() types.Identity
	Context() *types.Context
	Send(event string, data any) error
	SendToChannel(channel, event string, data any) error
	Subscribed(channel string) bool
	Disconnect(reason string)
}

// HandlerFunc handles one event.
type HandlerFunc func(conn Connection, identity types.Identity, p packet.Packet) error

// Handlers is an explicit event name to handler dispatch table.
type Handlers map[string]HandlerFunc

// Lookup returns the handler registered for event.
func (h Handlers) Lookup(event string) (HandlerFunc, bool) {
	fn, ok := h[event]
	return fn, ok && fn != nil
}

// ChannelListener is the policy and handler set bound to one channel.
type ChannelListener interface {
	// Channel returns the parsed channel this listener was bound to.
	Channel() channel.Info

	// Authorize decides whether identity may use the channel. It is
	// consulted on subscribe and again on unsubscribe.
	Authorize(conn Connection, identity types.Identity) (bool, error)

	// Middlewares run, in order, before every channel message handler.
	Middlewares() []types.Middleware

	// Handler returns the handler for a channel event.
	Handler(event string) (HandlerFunc, bool)
}

// ChannelFactory binds a channel family's listener to a concrete channel.
type ChannelFactory func(info channel.Info) ChannelListener

// EventListener handles a connection-scoped event.
type EventListener interface {
	Handle(conn Connection, identity types.Identity, p packet.Packet) error
}

// EventFunc adapts a function to EventListener.
type EventFunc func(conn Connection, identity types.Identity, p packet.Packet) error

func (f EventFunc) Handle(conn Connection, identity types.Identity, p packet.Packet) error {
	return f(conn, identity, p)
}

// Base carries the bound channel and can be embedded by listeners.
type Base struct {
	Info channel.Info
}

// Channel returns the bound channel.
func (b Base) Channel() channel.Info { return b.Info }

// Middlewares returns no middleware.
func (b Base) Middlewares() []types.Middleware { return nil }
