package providers

import (
	"context"
	"errors"
	"sync"

	"github.com/orchestra-mcp/socket/config"
	"github.com/orchestra-mcp/socket/src/auth"
	"github.com/orchestra-mcp/socket/src/bridge"
	"github.com/orchestra-mcp/socket/src/hub"
	"github.com/orchestra-mcp/socket/src/listener"
	"github.com/orchestra-mcp/socket/src/metrics"
	"github.com/orchestra-mcp/socket/src/service"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ErrStopped is returned by Activate once the server has been deactivated.
// The hub does not admit clients again after shutdown.
var ErrStopped = errors.New("socket server stopped")

// Options configures a SocketServer.
type Options struct {
	Config      *config.SocketConfig
	Redis       *bridge.RedisConfig
	Registry    *listener.Registry
	Middlewares []types.Middleware
	Identity    types.IdentityResolver
	Metrics     *prometheus.Registry
	Logger      zerolog.Logger
}

// SocketServer owns the hub, its service facade and the optional Redis
// bridge, and exposes them over fasthttp and fiber.
type SocketServer struct {
	cfg      *config.SocketConfig
	redisCfg *bridge.RedisConfig
	registry *listener.Registry
	metrics  *prometheus.Registry
	hub      *hub.Hub
	service  *service.Service
	admin    *auth.AdminAuthorizer
	logger   zerolog.Logger

	mu      sync.RWMutex
	active  bool
	stopped bool
	ctx    context.Context
	cancel context.CancelFunc
	bridge bridge.Bridge
}

// NewSocketServer builds the hub and service from opts.
func NewSocketServer(opts Options) *SocketServer {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Registry == nil {
		opts.Registry = listener.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	h := hub.New(hub.Options{
		Config:      opts.Config,
		Resolver:    opts.Registry,
		Middlewares: opts.Middlewares,
		Identity:    opts.Identity,
		Logger:      opts.Logger,
		Metrics:     metrics.New(opts.Metrics),
	})

	return &SocketServer{
		cfg:      opts.Config,
		redisCfg: opts.Redis,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		hub:      h,
		service:  service.New(h, opts.Registry, opts.Logger),
		admin:    auth.NewAdminAuthorizer(opts.Config.AdminToken, opts.Config.JWTSecret),
		logger:   opts.Logger.With().Str("component", "socket-server").Logger(),
		ctx:      context.Background(),
	}
}

func (s *SocketServer) Hub() *hub.Hub                 { return s.hub }
func (s *SocketServer) Service() *service.Service     { return s.service }
func (s *SocketServer) Config() *config.SocketConfig  { return s.cfg }
func (s *SocketServer) Metrics() *prometheus.Registry { return s.metrics }

// IsActive reports whether Activate has run and Deactivate has not.
func (s *SocketServer) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Activate starts the keepalive loop and, when configured, the Redis
// bridge. Connections accepted afterwards inherit ctx.
func (s *SocketServer) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.active {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	s.active = true
	s.mu.Unlock()

	go s.hub.Run(runCtx)
	s.initBridge(runCtx)

	s.logger.Info().
		Str("path", s.cfg.Path).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("websocket server activated")
	return nil
}

// initBridge tries to start the Redis pub/sub bridge. If Redis is not
// reachable the hub runs standalone.
func (s *SocketServer) initBridge(ctx context.Context) {
	if s.redisCfg == nil || !s.redisCfg.Enabled {
		return
	}
	rb := bridge.NewRedisBridge(s.redisCfg, s.hub, s.logger)
	if err := rb.Start(ctx); err != nil {
		s.logger.Warn().Err(err).Str("redis_addr", s.redisCfg.Addr).Msg("redis bridge unavailable, running standalone")
		_ = rb.Stop()
		return
	}

	s.mu.Lock()
	s.bridge = rb
	s.mu.Unlock()
	s.hub.SetBridge(rb)
	s.logger.Info().Str("redis_addr", s.redisCfg.Addr).Msg("redis bridge connected")
}

// Deactivate stops the bridge and keepalive loop and disconnects every client.
func (s *SocketServer) Deactivate() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.stopped = true
	b := s.bridge
	s.bridge = nil
	cancel := s.cancel
	s.mu.Unlock()

	var err error
	if b != nil {
		s.hub.SetBridge(nil)
		if err = b.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("bridge stop error")
		}
	}
	cancel()
	s.hub.Shutdown(hub.ReasonShutdown)
	s.logger.Info().Msg("websocket server deactivated")
	return err
}

func (s *SocketServer) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}
