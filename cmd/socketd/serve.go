package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/socket/config"
	"github.com/orchestra-mcp/socket/providers"
	"github.com/orchestra-mcp/socket/src/auth"
	"github.com/orchestra-mcp/socket/src/bridge"
	"github.com/orchestra-mcp/socket/src/listener"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket server",
		Long: `Start the WebSocket server.

Configuration is read from SOCKET_* environment variables; the Redis
bridge is enabled with REDIS_BRIDGE_ENABLED=true.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			redisCfg, err := bridge.RedisConfigFromEnv()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, redisCfg, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SOCKET_ADDR)")
	return cmd
}

func run(ctx context.Context, cfg *config.SocketConfig, redisCfg *bridge.RedisConfig, logger zerolog.Logger) error {
	registry := listener.NewRegistry()
	server := providers.NewSocketServer(providers.Options{
		Config:      cfg,
		Redis:       redisCfg,
		Registry:    registry,
		Middlewares: []types.Middleware{auth.NewJWTMiddleware(cfg.JWTSecret, cfg.AllowAnonymous)},
		Identity:    auth.ClaimsResolver{},
		Logger:      logger,
	})
	if err := registerListeners(server.Service(), cfg.AllowAnonymous); err != nil {
		return err
	}

	app := fiber.New()
	server.RegisterRoutes(app.Group("/api"))

	httpServer := &fasthttp.Server{
		Handler:         server.Handler(app),
		Name:            "socketd",
		ReadBufferSize:  cfg.ReadBufferSize * 4,
		WriteBufferSize: cfg.WriteBufferSize * 4,
	}

	if err := server.Activate(ctx); err != nil {
		return fmt.Errorf("activate socket server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("ws_path", cfg.Path).Msg("listening")
		if err := httpServer.ListenAndServe(cfg.Addr); err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		// Hijacked WebSocket connections are closed by Deactivate; the HTTP
		// server only waits for regular requests.
		deactivateErr := server.Deactivate()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
			return errors.Join(deactivateErr, fmt.Errorf("http shutdown: %w", err))
		}
		return deactivateErr
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
