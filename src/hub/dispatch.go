package hub

import (
	"github.com/orchestra-mcp/socket/src/channel"
	"github.com/orchestra-mcp/socket/src/listener"
	"github.com/orchestra-mcp/socket/src/metrics"
	"github.com/orchestra-mcp/socket/src/packet"
	"github.com/rs/zerolog"
)

const (
	kindControl = "control"
	kindChannel = "channel"
	kindEvent   = "event"
)

// handlePacket decodes one inbound payload and routes it. Nothing it does
// may escape the read loop.
func (c *Client) handlePacket(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("packet handler panicked")
		}
	}()

	p, err := packet.Decode(raw)
	if err != nil {
		c.drop(metrics.ReasonMalformed).Err(err).Msg("dropping malformed packet")
		return
	}

	switch p.Event {
	case packet.EventPong:
		c.hub.metrics.Received(kindControl)
		c.markAlive()
	case packet.EventChannelSubscribeRequest:
		c.hub.metrics.Received(kindControl)
		c.onSubscribeRequest(p)
	case packet.EventChannelUnsubscribeRequest:
		c.hub.metrics.Received(kindControl)
		c.onUnsubscribeRequest(p)
	default:
		if p.IsForChannel() {
			c.hub.metrics.Received(kindChannel)
			c.onChannelMessage(p)
			return
		}
		c.hub.metrics.Received(kindEvent)
		c.onEventMessage(p)
	}
}

// resolveChannel parses a channel identifier and finds its listener factory.
func (c *Client) resolveChannel(identifier string) (channel.Info, listener.ChannelFactory, bool) {
	info, err := channel.Parse(identifier)
	if err != nil {
		c.drop(metrics.ReasonInvalidChannel).Err(err).Msg("dropping packet for invalid channel")
		return channel.Info{}, nil, false
	}
	factory, ok := c.hub.resolver.LookupChannel(info.ListenerKey)
	if !ok {
		c.drop(metrics.ReasonUnknownListener).
			Str("channel", info.Name).
			Str("listener_key", info.ListenerKey).
			Msg("no channel listener registered")
		return info, nil, false
	}
	return info, factory, true
}

func (c *Client) onSubscribeRequest(p packet.Packet) {
	var req packet.SubscribeRequest
	if err := p.Bind(&req); err != nil {
		c.drop(metrics.ReasonMalformed).Err(err).Msg("dropping malformed subscribe request")
		return
	}

	info, factory, ok := c.resolveChannel(req.Channel)
	if !ok {
		return
	}
	l := factory(info)
	if l == nil {
		c.drop(metrics.ReasonUnknownListener).Str("channel", info.Name).Msg("channel factory returned no listener")
		return
	}

	allowed := c.authorize(l)
	if allowed {
		c.addSubscription(info.Name, l)
		c.hub.metrics.SubscribeRequests.WithLabelValues("authorized").Inc()
		c.logger.Debug().Str("channel", info.Name).Msg("subscribed")
	} else {
		c.hub.metrics.SubscribeRequests.WithLabelValues("denied").Inc()
		c.logger.Debug().Str("channel", info.Name).Msg("subscribe denied")
	}

	resp := packet.SubscribeResponse{Channel: info.Name, Successful: allowed}
	if err := c.Send(packet.EventChannelSubscribeResponse, resp); err != nil {
		c.logger.Debug().Err(err).Str("channel", info.Name).Msg("subscribe response not sent")
	}
}

// onUnsubscribeRequest removes a subscription only if the listener still
// authorizes the current identity; denied requests are ignored.
func (c *Client) onUnsubscribeRequest(p packet.Packet) {
	var req packet.SubscribeRequest
	if err := p.Bind(&req); err != nil {
		c.drop(metrics.ReasonMalformed).Err(err).Msg("dropping malformed unsubscribe request")
		return
	}

	info, _, ok := c.resolveChannel(req.Channel)
	if !ok {
		return
	}
	existing, ok := c.subscription(info.Name)
	if !ok {
		return
	}
	if !c.authorize(existing) {
		c.logger.Debug().Str("channel", info.Name).Msg("unsubscribe denied")
		return
	}
	c.removeSubscription(info.Name)
	c.logger.Debug().Str("channel", info.Name).Msg("unsubscribed")
}

func (c *Client) onChannelMessage(p packet.Packet) {
	info, _, ok := c.resolveChannel(p.Channel)
	if !ok {
		return
	}
	sub, ok := c.subscription(info.Name)
	if !ok {
		c.drop(metrics.ReasonNotSubscribed).
			Str("channel", info.Name).
			Str("event", p.Event).
			Msg("message for a channel the client is not subscribed to")
		return
	}

	for _, mw := range sub.Middlewares() {
		if err := mw.Handle(c.ctx); err != nil {
			c.drop(metrics.ReasonMiddleware).Err(err).
				Str("channel", info.Name).
				Str("event", p.Event).
				Msg("channel middleware halted dispatch")
			return
		}
	}

	handler, ok := sub.Handler(p.Event)
	if !ok {
		c.drop(metrics.ReasonUnknownEvent).
			Str("channel", info.Name).
			Str("event", p.Event).
			Msg("no handler for channel event")
		return
	}

	p.Channel = info.Name
	if err := handler(c, c.Identity(), p); err != nil {
		c.logger.Error().Err(err).Str("channel", info.Name).Str("event", p.Event).Msg("channel handler error")
	}
}

func (c *Client) onEventMessage(p packet.Packet) {
	l, ok := c.hub.resolver.LookupEvent(channel.EventKey(p.Event))
	if !ok {
		c.drop(metrics.ReasonUnknownListener).Str("event", p.Event).Msg("no event listener registered")
		return
	}
	if err := l.Handle(c, c.Identity(), p); err != nil {
		c.logger.Error().Err(err).Str("event", p.Event).Msg("event handler error")
	}
}

// authorize treats a failing check as a denial.
func (c *Client) authorize(l listener.ChannelListener) bool {
	ok, err := l.Authorize(c, c.Identity())
	if err != nil {
		c.logger.Warn().Err(err).Str("channel", l.Channel().Name).Msg("authorization check failed")
		return false
	}
	return ok
}

// drop counts a discarded packet and returns a warn event to describe it.
func (c *Client) drop(reason string) *zerolog.Event {
	c.hub.metrics.Dropped(reason)
	return c.logger.Warn().Str("reason", reason)
}
