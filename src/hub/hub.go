package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/orchestra-mcp/socket/config"
	"github.com/orchestra-mcp/socket/src/listener"
	"github.com/orchestra-mcp/socket/src/metrics"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/rs/zerolog"
)

// Disconnect reasons.
const (
	ReasonPingTimeout     = "ping timeout"
	ReasonTransportClosed = "transport closed"
	ReasonWriteFailed     = "write failed"
	ReasonShutdown        = "server shutdown"
)

var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrHandshakeFailed    = errors.New("handshake failed")
	ErrTooManyConnections = errors.New("too many connections")
	ErrClientNotFound     = errors.New("client not found")
	ErrDisabled           = errors.New("websocket server disabled")
)

// MessageBridge publishes broadcasts to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(channel string, payload []byte) error
	Available() bool
}

// Options configures a Hub.
type Options struct {
	Config      *config.SocketConfig
	Resolver    listener.Resolver
	Middlewares []types.Middleware
	Identity    types.IdentityResolver
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Clock       clockwork.Clock
}

// Hub accepts transports, tracks live clients and their channel
// subscriptions, broadcasts to channels and runs the keepalive sweep.
//
// Every index is guarded by mu; writes to clients happen outside it.
type Hub struct {
	cfg         *config.SocketConfig
	resolver    listener.Resolver
	middlewares []types.Middleware
	identity    types.IdentityResolver
	metrics     *metrics.Metrics
	clock       clockwork.Clock

	clients  map[string]*Client
	users    map[string]map[string]*Client // userID -> clientID -> client
	channels map[string]map[string]*Client // channel -> clientID -> client

	onConnect []func(string)
	onDisconn []func(string)

	bridge MessageBridge
	closed bool
	mu     sync.RWMutex
	logger zerolog.Logger
}

// New creates a Hub. Missing options fall back to defaults: an empty
// registry, an anonymous identity resolver and an unregistered metrics set.
func New(opts Options) *Hub {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Resolver == nil {
		opts.Resolver = listener.NewRegistry()
	}
	if opts.Identity == nil {
		opts.Identity = types.IdentityResolverFunc(func(*types.Context) (string, types.Identity, error) {
			return "", types.Identity{}, nil
		})
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Hub{
		cfg:         opts.Config,
		resolver:    opts.Resolver,
		middlewares: opts.Middlewares,
		identity:    opts.Identity,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		clients:     make(map[string]*Client),
		users:       make(map[string]map[string]*Client),
		channels:    make(map[string]map[string]*Client),
		logger:      opts.Logger.With().Str("component", "hub").Logger(),
	}
}

// IsEnabled reports whether the server should accept WebSocket upgrades.
// It turns false for good once Shutdown has run.
func (h *Hub) IsEnabled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.Enabled && !h.closed
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, broadcasts are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// AcceptTransport runs the handshake for a new transport, registers the
// client, calls onReady and then serves the connection until it closes.
// A failed handshake closes the transport and returns an error wrapping
// ErrHandshakeFailed.
func (h *Hub) AcceptTransport(ctx context.Context, conn types.Conn, req *types.Request, onReady func(*Client)) error {
	c, err := h.Accept(ctx, conn, req)
	if err != nil {
		return err
	}
	if onReady != nil {
		onReady(c)
	}
	go c.WritePump()
	c.ReadPump()
	return nil
}

// Accept performs the handshake and registration without starting the
// pumps.
func (h *Hub) Accept(ctx context.Context, conn types.Conn, req *types.Request) (*Client, error) {
	if !h.IsEnabled() {
		_ = conn.Close()
		return nil, ErrDisabled
	}

	c := NewClient(conn, req, h)
	if err := c.handshake(ctx); err != nil {
		h.metrics.HandshakeFailures.Inc()
		c.abort()
		h.logger.Warn().Err(err).Str("client_id", c.ID()).Msg("handshake failed")
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := h.register(c); err != nil {
		h.metrics.HandshakeFailures.Inc()
		c.abort()
		h.logger.Warn().Err(err).Str("client_id", c.ID()).Msg("client rejected")
		return nil, err
	}
	return c, nil
}

// register indexes a handshaken client and makes it active.
func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrDisabled
	}
	if limit := h.cfg.MaxConnections; limit > 0 && len(h.clients) >= limit {
		h.mu.Unlock()
		return ErrTooManyConnections
	}

	c.mu.Lock()
	c.state = StateActive
	c.onDisconnect = func(string, string) { h.unregister(c) }
	userID := c.userID
	c.mu.Unlock()

	h.clients[c.id] = c
	if userID != "" {
		if h.users[userID] == nil {
			h.users[userID] = make(map[string]*Client)
		}
		h.users[userID][c.id] = c
	}
	callbacks := h.onConnect
	h.mu.Unlock()

	h.metrics.ConnectedClients.Inc()
	h.logger.Info().Str("client_id", c.id).Str("user_id", userID).Msg("client registered")

	for _, cb := range callbacks {
		cb(c.id)
	}
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if existing, ok := h.clients[c.id]; !ok || existing != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)

	if conns, ok := h.users[c.userID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}

	// Remove from all channel subscriptions.
	removed := 0
	for ch, subs := range h.channels {
		if _, ok := subs[c.id]; !ok {
			continue
		}
		delete(subs, c.id)
		removed++
		if len(subs) == 0 {
			delete(h.channels, ch)
		}
	}
	callbacks := h.onDisconn
	h.mu.Unlock()

	h.metrics.ConnectedClients.Dec()
	h.metrics.Subscriptions.Sub(float64(removed))
	h.metrics.Disconnects.WithLabelValues(c.closeReasonOr(ReasonTransportClosed)).Inc()
	h.logger.Info().Str("client_id", c.id).Msg("client unregistered")

	for _, cb := range callbacks {
		cb(c.id)
	}
}

// Shutdown disconnects every client and stops admitting new ones.
func (h *Hub) Shutdown(reason string) {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, c := range h.snapshotClients() {
		c.Disconnect(reason)
	}
}

func (h *Hub) snapshotClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (c *Client) closeReasonOr(fallback string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closeReason == "" {
		return fallback
	}
	return c.closeReason
}
