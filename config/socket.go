package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// SocketConfig holds WebSocket server configuration.
type SocketConfig struct {
	Enabled         bool          `env:"SOCKET_ENABLED" envDefault:"true" json:"enabled"`
	Addr            string        `env:"SOCKET_ADDR" envDefault:":3000" json:"addr"`
	Path            string        `env:"SOCKET_PATH" envDefault:"/ws" json:"path"`
	MaxConnections  int           `env:"SOCKET_MAX_CONNECTIONS" envDefault:"1000" json:"max_connections"`
	PingInterval    time.Duration `env:"SOCKET_PING_INTERVAL" envDefault:"30s" json:"ping_interval"`
	WriteTimeout    time.Duration `env:"SOCKET_WRITE_TIMEOUT" envDefault:"10s" json:"write_timeout"`
	ReadBufferSize  int           `env:"SOCKET_READ_BUFFER_SIZE" envDefault:"1024" json:"read_buffer_size"`
	WriteBufferSize int           `env:"SOCKET_WRITE_BUFFER_SIZE" envDefault:"1024" json:"write_buffer_size"`
	SendBufferSize  int           `env:"SOCKET_SEND_BUFFER_SIZE" envDefault:"256" json:"send_buffer_size"`
	MaxMessageSize  int64         `env:"SOCKET_MAX_MESSAGE_SIZE" envDefault:"65536" json:"max_message_size"`
	TokenQueryParam string        `env:"SOCKET_TOKEN_QUERY_PARAM" envDefault:"token" json:"token_query_param"`
	JWTSecret       string        `env:"SOCKET_JWT_SECRET" json:"-"`
	AllowAnonymous  bool          `env:"SOCKET_ALLOW_ANONYMOUS" envDefault:"true" json:"allow_anonymous"`
	AdminToken      string        `env:"SOCKET_ADMIN_TOKEN" json:"-"`
	LogLevel        string        `env:"SOCKET_LOG_LEVEL" envDefault:"info" json:"log_level"`
	LogFormat       string        `env:"SOCKET_LOG_FORMAT" envDefault:"console" json:"log_format"`
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		Enabled:         true,
		Addr:            ":3000",
		Path:            "/ws",
		MaxConnections:  1000,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		MaxMessageSize:  64 * 1024,
		TokenQueryParam: "token",
		AllowAnonymous:  true,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load reads the configuration from the environment, falling back to
// defaults for unset variables.
func Load() (*SocketConfig, error) {
	var cfg SocketConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse socket env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the hub cannot run with.
func (c *SocketConfig) Validate() error {
	if c.PingInterval <= 0 {
		return errors.New("SOCKET_PING_INTERVAL must be positive")
	}
	if c.SendBufferSize <= 0 {
		return errors.New("SOCKET_SEND_BUFFER_SIZE must be positive")
	}
	if c.MaxConnections < 0 {
		return errors.New("SOCKET_MAX_CONNECTIONS must not be negative")
	}
	if c.TokenQueryParam == "" {
		return errors.New("SOCKET_TOKEN_QUERY_PARAM is required")
	}
	if !c.AllowAnonymous && c.JWTSecret == "" {
		return errors.New("SOCKET_JWT_SECRET is required when SOCKET_ALLOW_ANONYMOUS is false")
	}
	return nil
}
