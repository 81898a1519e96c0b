package hub

import (
	"context"

	"github.com/orchestra-mcp/socket/src/packet"
)

// Run drives the keepalive sweep every PingInterval until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	h.logger.Info().Dur("ping_interval", h.cfg.PingInterval).Msg("keepalive started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.Sweep()
		}
	}
}

// Sweep disconnects clients that left the previous ping unanswered and
// pings the rest.
func (h *Hub) Sweep() {
	for _, c := range h.snapshotClients() {
		if !c.Alive() {
			c.Disconnect(ReasonPingTimeout)
			continue
		}
		c.MarkPingOutstanding()
		if err := c.Send(packet.EventPing, nil); err != nil {
			c.logger.Debug().Err(err).Msg("ping not sent")
		}
	}
}
