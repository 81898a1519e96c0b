package providers

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/socket/src/metrics"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/valyala/fasthttp"
)

const metricsPath = "/metrics"

// RegisterRoutes registers the WebSocket info route via Fiber.
// The actual WebSocket upgrade uses FastHTTPHandler, registered
// at the server level since Fiber v3 does not expose *fasthttp.RequestCtx.
func (s *SocketServer) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", s.handleInfo)
	s.RegisterAdminRoutes(group)
}

func (s *SocketServer) handleInfo(c fiber.Ctx) error {
	stats := s.service.Stats()
	return c.JSON(fiber.Map{
		"websocket":     s.hub.IsEnabled(),
		"endpoint":      s.cfg.Path,
		"clients":       stats.Clients,
		"channels":      stats.Channels,
		"subscriptions": stats.Subscriptions,
	})
}

// Handler routes the WebSocket path and /metrics on the raw fasthttp
// server and hands everything else to app.
func (s *SocketServer) Handler(app *fiber.App) fasthttp.RequestHandler {
	ws := s.FastHTTPHandler()
	prom := metrics.Handler(s.metrics)
	rest := app.Handler()

	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case s.cfg.Path:
			ws(ctx)
		case metricsPath:
			prom(ctx)
		default:
			rest(ctx)
		}
	}
}

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
func (s *SocketServer) FastHTTPHandler() fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
	}

	return func(ctx *fasthttp.RequestCtx) {
		if !s.IsActive() || !s.hub.IsEnabled() {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString(`{"error":"disabled","message":"WebSocket server disabled"}`)
			return
		}
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		// The request context is recycled once the upgrade hijacks the
		// connection, so everything the handshake needs is copied first.
		req := captureRequest(ctx)
		base := s.baseContext()
		h := s.hub

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			conn.SetReadLimit(s.cfg.MaxMessageSize)
			transport := &fasthttpConn{conn: conn, writeTimeout: s.cfg.WriteTimeout}
			if err := h.AcceptTransport(base, transport, req, nil); err != nil {
				s.logger.Warn().Err(err).Str("remote_addr", req.RemoteAddr).Msg("websocket connection rejected")
			}
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

func captureRequest(ctx *fasthttp.RequestCtx) *types.Request {
	req := &types.Request{
		Path:       string(ctx.Path()),
		Query:      make(url.Values),
		Header:     make(http.Header),
		RemoteAddr: remoteAddr(ctx.RemoteAddr()),
	}
	ctx.QueryArgs().VisitAll(func(k, v []byte) {
		req.Query.Add(string(k), string(v))
	})
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		req.Header.Add(string(k), string(v))
	})
	return req
}

func remoteAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (f *fasthttpConn) ReadMessage() ([]byte, error) {
	_, data, err := f.conn.ReadMessage()
	return data, err
}

func (f *fasthttpConn) WriteMessage(data []byte) error {
	if f.writeTimeout > 0 {
		if err := f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout)); err != nil {
			return err
		}
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }
