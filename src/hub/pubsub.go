package hub

import (
	"fmt"

	"github.com/orchestra-mcp/socket/src/channel"
	"github.com/orchestra-mcp/socket/src/packet"
)

// Broadcast delivers a channel packet to every subscriber on this
// instance and, when a bridge is attached, to other instances.
func (h *Hub) Broadcast(channelName, event string, data any) error {
	info, err := channel.Parse(channelName)
	if err != nil {
		return err
	}
	payload, err := packet.Encode(event, info.Name, data)
	if err != nil {
		return err
	}

	h.metrics.Broadcasts.Inc()
	h.publishToBridge(info.Name, payload)
	h.broadcastToChannel(info.Name, payload)
	return nil
}

// BroadcastToLocal delivers a payload from the bridge to local subscribers only.
// It does not re-publish, preventing loops between instances.
func (h *Hub) BroadcastToLocal(channelName string, payload []byte) {
	h.broadcastToChannel(channelName, payload)
}

// broadcastToChannel snapshots the subscribers and writes outside the lock.
// Clients that closed in between are skipped.
func (h *Hub) broadcastToChannel(channelName string, payload []byte) int {
	h.mu.RLock()
	subs, ok := h.channels[channelName]
	if !ok {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]*Client, 0, len(subs))
	for _, c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.enqueue(payload); err != nil {
			h.logger.Debug().Err(err).Str("client_id", c.id).Str("channel", channelName).Msg("broadcast skipped client")
			continue
		}
		delivered++
	}
	return delivered
}

// publishToBridge forwards a payload to the bridge if one is attached.
func (h *Hub) publishToBridge(channelName string, payload []byte) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(channelName, payload); err != nil {
		h.logger.Error().Err(err).Str("channel", channelName).Msg("bridge publish failed")
	}
}

// subscribe adds a client to a channel index. Clients no longer registered
// are ignored so a late subscribe cannot resurrect a closed connection.
func (h *Hub) subscribe(channelName string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[c.id]; !ok || existing != c {
		return
	}
	if h.channels[channelName] == nil {
		h.channels[channelName] = make(map[string]*Client)
	}
	if _, ok := h.channels[channelName][c.id]; ok {
		return
	}
	h.channels[channelName][c.id] = c
	h.metrics.Subscriptions.Inc()
}

// unsubscribe removes a client from a channel index.
func (h *Hub) unsubscribe(channelName string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[channelName]
	if !ok {
		return
	}
	if _, ok := subs[c.id]; !ok {
		return
	}
	delete(subs, c.id)
	h.metrics.Subscriptions.Dec()
	if len(subs) == 0 {
		delete(h.channels, channelName)
	}
}

// SendToClient sends a packet directly to a specific client.
func (h *Hub) SendToClient(clientID, event string, data any) error {
	c, ok := h.client(clientID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return c.Send(event, data)
}

// SendToUser sends a packet to every connection of a user and returns how
// many accepted it.
func (h *Hub) SendToUser(userID, event string, data any) (int, error) {
	payload, err := packet.Encode(event, "", data)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.enqueue(payload) == nil {
			delivered++
		}
	}
	return delivered, nil
}

// DisconnectClient closes a specific client.
func (h *Hub) DisconnectClient(clientID, reason string) error {
	c, ok := h.client(clientID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	c.Disconnect(reason)
	return nil
}
