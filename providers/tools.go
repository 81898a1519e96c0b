package providers

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/socket/src/auth"
	"github.com/orchestra-mcp/socket/src/channel"
	"github.com/orchestra-mcp/socket/src/hub"
)

type publishRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

func (r publishRequest) validate() error {
	if r.Channel == "" {
		return errChannelRequired
	}
	if r.Event == "" {
		return errEventRequired
	}
	return nil
}

type sendRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (r sendRequest) validate() error {
	if r.Event == "" {
		return errEventRequired
	}
	return nil
}

type channelSummary struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
}

// RegisterAdminRoutes exposes client listing, channel listing, publishing
// and direct sends behind requireAdmin. Without SOCKET_ADMIN_TOKEN or a JWT
// secret nothing can authenticate, so the routes are not mounted.
func (s *SocketServer) RegisterAdminRoutes(group fiber.Router) {
	if s.admin == nil {
		s.logger.Warn().Msg("admin routes disabled: neither SOCKET_ADMIN_TOKEN nor SOCKET_JWT_SECRET is set")
		return
	}
	group.Get("/ws/clients", s.handleListClients, s.requireAdmin)
	group.Get("/ws/clients/:id", s.handleGetClient, s.requireAdmin)
	group.Delete("/ws/clients/:id", s.handleDisconnectClient, s.requireAdmin)
	group.Post("/ws/clients/:id/send", s.handleSendToClient, s.requireAdmin)
	group.Post("/ws/users/:id/send", s.handleSendToUser, s.requireAdmin)
	group.Get("/ws/channels", s.handleListChannels, s.requireAdmin)
	group.Post("/ws/publish", s.handlePublish, s.requireAdmin)
}

func (s *SocketServer) requireAdmin(c fiber.Ctx) error {
	err := s.admin.Authorize(auth.BearerToken(c.Get(fiber.HeaderAuthorization)))
	switch {
	case err == nil:
		return c.Next()
	case errors.Is(err, auth.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	default:
		s.logger.Warn().Err(err).Str("path", c.Path()).Str("ip", c.IP()).Msg("admin request rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
}

func (s *SocketServer) handleListClients(c fiber.Ctx) error {
	clients := s.service.GetClients()
	return c.JSON(fiber.Map{"clients": clients, "count": len(clients)})
}

func (s *SocketServer) handleGetClient(c fiber.Ctx) error {
	info, err := s.service.GetClientInfo(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(info)
}

func (s *SocketServer) handleDisconnectClient(c fiber.Ctx) error {
	reason := c.Query("reason", "disconnected by admin")
	if err := s.service.Disconnect(c.Params("id"), reason); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"disconnected": true})
}

func (s *SocketServer) handleSendToClient(c fiber.Ctx) error {
	var req sendRequest
	if err := decodeBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	if err := s.service.SendToClient(c.Params("id"), req.Event, req.Data); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"sent": true})
}

func (s *SocketServer) handleSendToUser(c fiber.Ctx) error {
	var req sendRequest
	if err := decodeBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	n, err := s.service.SendToUser(c.Params("id"), req.Event, req.Data)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"delivered": n})
}

func (s *SocketServer) handleListChannels(c fiber.Ctx) error {
	channels := s.service.GetChannels()
	result := make([]channelSummary, 0, len(channels))
	for name, count := range channels {
		result = append(result, channelSummary{Channel: name, Subscribers: count})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Channel < result[j].Channel })
	return c.JSON(fiber.Map{"channels": result, "count": len(result)})
}

func (s *SocketServer) handlePublish(c fiber.Ctx) error {
	var req publishRequest
	if err := decodeBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	if err := s.service.Publish(req.Channel, req.Event, req.Data); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"published": true, "channel": req.Channel})
}

var (
	errChannelRequired = errors.New("channel is required")
	errEventRequired   = errors.New("event is required")
	errInvalidBody     = errors.New("invalid JSON body")
)

type validator interface {
	validate() error
}

// decodeBody binds the JSON body into v and validates it.
func decodeBody(c fiber.Ctx, v validator) error {
	if err := c.Bind().JSON(v); err != nil {
		return errInvalidBody
	}
	return v.validate()
}

func errorResponse(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, hub.ErrClientNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, channel.ErrInvalidChannelName),
		errors.Is(err, errChannelRequired),
		errors.Is(err, errEventRequired),
		errors.Is(err, errInvalidBody):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
