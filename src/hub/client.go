package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/socket/src/listener"
	"github.com/orchestra-mcp/socket/src/metrics"
	"github.com/orchestra-mcp/socket/src/packet"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/rs/zerolog"
)

// State is the lifecycle stage of a client.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var _ listener.Connection = (*Client)(nil)

// Client wraps one WebSocket transport: its handshake, subscriptions,
// liveness and outbound queue.
type Client struct {
	id          string
	conn        types.Conn
	hub         *Hub
	send        chan []byte
	done        chan struct{}
	connectedAt time.Time
	request     *types.Request
	ctx         *types.Context
	logger      zerolog.Logger

	mu            sync.RWMutex
	state         State
	userID        string
	identity      types.Identity
	alive         bool
	closeReason   string
	subscriptions map[string]listener.ChannelListener
	onDisconnect  func(userID, id string)
}

// NewClient creates a client in the handshaking state.
func NewClient(conn types.Conn, req *types.Request, h *Hub) *Client {
	if req == nil {
		req = &types.Request{}
	}
	id := uuid.New().String()
	return &Client{
		id:            id,
		conn:          conn,
		hub:           h,
		send:          make(chan []byte, h.cfg.SendBufferSize),
		done:          make(chan struct{}),
		connectedAt:   h.clock.Now(),
		request:       req,
		logger:        h.logger.With().Str("client_id", id).Logger(),
		state:         StateHandshaking,
		alive:         true,
		subscriptions: make(map[string]listener.ChannelListener),
	}
}

// ID returns the process-unique connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the id resolved at handshake, empty for anonymous clients.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Identity returns the principal resolved at handshake.
func (c *Client) Identity() types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Context returns the per-connection execution context.
func (c *Client) Context() *types.Context { return c.ctx }

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return types.ClientInfo{
		ID:          c.id,
		UserID:      c.userID,
		ConnectedAt: c.connectedAt,
		Channels:    channels,
		UserAgent:   c.request.UserAgent(),
		RemoteAddr:  c.request.RemoteAddr,
		State:       c.state.String(),
	}
}

// handshake promotes the token, runs global middleware and resolves the
// identity. The client is not yet registered.
func (c *Client) handshake(parent context.Context) error {
	cfg := c.hub.cfg
	c.ctx = types.NewContext(parent, c.request, c.id)

	if token := c.request.Query.Get(cfg.TokenQueryParam); token != "" {
		c.request.Header.Set("Authorization", "Bearer "+token)
	}

	for i, mw := range c.hub.middlewares {
		if err := mw.Handle(c.ctx); err != nil {
			return fmt.Errorf("middleware %d: %w", i, err)
		}
	}

	userID, identity, err := c.hub.identity.Resolve(c.ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	c.mu.Lock()
	c.userID = userID
	c.identity = identity
	c.mu.Unlock()

	c.logger = c.logger.With().Str("user_id", userID).Logger()
	return nil
}

// abort closes a client that never became active.
func (c *Client) abort() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	close(c.done)
	_ = c.conn.Close()
}

// OnDisconnect sets the teardown callback, invoked once with (userID, id).
func (c *Client) OnDisconnect(cb func(userID, id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = cb
}

// Send writes a non-channel packet to this client.
func (c *Client) Send(event string, data any) error {
	payload, err := packet.Encode(event, "", data)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

// SendToChannel writes a channel-scoped packet to this client only.
func (c *Client) SendToChannel(channelName, event string, data any) error {
	payload, err := packet.Encode(event, channelName, data)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

// SendPacket writes an already built packet to this client.
func (c *Client) SendPacket(p packet.Packet) error {
	payload, err := p.Marshal()
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateActive {
		return ErrConnectionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.hub.metrics.Dropped(metrics.ReasonBufferFull)
		c.logger.Warn().Msg("send buffer full, dropping")
		return ErrSendBufferFull
	}
}

// Disconnect closes the transport and runs the teardown callback. Calls
// after the first are no-ops.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.closeReason = reason
	cb := c.onDisconnect
	userID := c.userID
	close(c.done)
	c.mu.Unlock()

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("transport close")
	}
	if cb != nil {
		cb(userID, c.id)
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.logger.Info().Str("reason", reason).Msg("client disconnected")
}

// MarkPingOutstanding records that a ping is about to be sent.
func (c *Client) MarkPingOutstanding() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
}

// Alive reports whether the last ping was answered.
func (c *Client) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

func (c *Client) markAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
}

// Subscribed reports whether the client holds a subscription for channel.
func (c *Client) Subscribed(channelName string) bool {
	_, ok := c.subscription(channelName)
	return ok
}

// Subscriptions returns the subscribed channel names, sorted.
func (c *Client) Subscriptions() []string {
	return c.Info().Channels
}

func (c *Client) subscription(channelName string) (listener.ChannelListener, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.subscriptions[channelName]
	return l, ok
}

func (c *Client) addSubscription(channelName string, l listener.ChannelListener) {
	c.mu.Lock()
	c.subscriptions[channelName] = l
	c.mu.Unlock()
	c.hub.subscribe(channelName, c)
}

func (c *Client) removeSubscription(channelName string) {
	c.mu.Lock()
	delete(c.subscriptions, channelName)
	c.mu.Unlock()
	c.hub.unsubscribe(channelName, c)
}

// ReadPump reads packets and dispatches them one at a time until the
// transport fails.
func (c *Client) ReadPump() {
	defer c.Disconnect(ReasonTransportClosed)

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.handlePacket(data)
	}
}

// WritePump drains the outbound queue to the transport.
func (c *Client) WritePump() {
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(payload); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.Disconnect(ReasonWriteFailed)
				return
			}
		case <-c.done:
			return
		}
	}
}
