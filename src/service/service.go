package service

import (
	"fmt"

	"github.com/orchestra-mcp/socket/src/hub"
	"github.com/orchestra-mcp/socket/src/listener"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/rs/zerolog"
)

// Service provides the high-level pub/sub API used by application code
// and the admin routes.
type Service struct {
	hub      *hub.Hub
	registry *listener.Registry
	logger   zerolog.Logger
}

// Stats summarizes the live state of the hub.
type Stats struct {
	Clients       int `json:"clients"`
	Channels      int `json:"channels"`
	Subscriptions int `json:"subscriptions"`
}

// New creates a service backed by the given hub and listener registry.
func New(h *hub.Hub, registry *listener.Registry, logger zerolog.Logger) *Service {
	return &Service{
		hub:      h,
		registry: registry,
		logger:   logger.With().Str("component", "socket-service").Logger(),
	}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// RegisterChannel registers a listener factory for a channel family pattern
// such as "room.*".
func (s *Service) RegisterChannel(pattern string, factory listener.ChannelFactory) error {
	if err := s.registry.Channel(pattern, factory); err != nil {
		return fmt.Errorf("register channel %q: %w", pattern, err)
	}
	s.logger.Debug().Str("pattern", pattern).Msg("channel listener registered")
	return nil
}

// RegisterEvent registers a listener for a connection-scoped event.
func (s *Service) RegisterEvent(event string, l listener.EventListener) error {
	if err := s.registry.Event(event, l); err != nil {
		return fmt.Errorf("register event %q: %w", event, err)
	}
	s.logger.Debug().Str("event", event).Msg("event listener registered")
	return nil
}

// Publish broadcasts event on channel to every subscriber.
func (s *Service) Publish(channel, event string, data any) error {
	if err := s.hub.Broadcast(channel, event, data); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// SendToClient sends a packet directly to a specific client.
func (s *Service) SendToClient(clientID, event string, data any) error {
	return s.hub.SendToClient(clientID, event, data)
}

// SendToUser sends a packet to every connection of a user and reports how
// many connections accepted it.
func (s *Service) SendToUser(userID, event string, data any) (int, error) {
	return s.hub.SendToUser(userID, event, data)
}

// Disconnect closes a client with the given reason.
func (s *Service) Disconnect(clientID, reason string) error {
	return s.hub.DisconnectClient(clientID, reason)
}

// OnConnection registers a callback for new connections.
func (s *Service) OnConnection(cb func(clientID string)) {
	s.hub.OnConnection(cb)
}

// OnDisconnection registers a callback for disconnections.
func (s *Service) OnDisconnection(cb func(clientID string)) {
	s.hub.OnDisconnection(cb)
}

// GetConnectedClients returns IDs of all connected clients.
func (s *Service) GetConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// GetClients returns metadata for every connected client.
func (s *Service) GetClients() []types.ClientInfo {
	ids := s.hub.ConnectedClients()
	infos := make([]types.ClientInfo, 0, len(ids))
	for _, id := range ids {
		if info := s.hub.ClientInfo(id); info != nil {
			infos = append(infos, *info)
		}
	}
	return infos
}

// GetChannels returns active channels with subscriber counts.
func (s *Service) GetChannels() map[string]int {
	return s.hub.Channels()
}

// GetClientInfo returns info for a connected client.
func (s *Service) GetClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", hub.ErrClientNotFound, clientID)
	}
	return info, nil
}

// Stats returns client, channel and subscription counts.
func (s *Service) Stats() Stats {
	channels := s.hub.Channels()
	subs := 0
	for _, n := range channels {
		subs += n
	}
	return Stats{
		Clients:       s.hub.ClientCount(),
		Channels:      len(channels),
		Subscriptions: subs,
	}
}
