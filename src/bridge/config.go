package bridge

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// RedisConfig holds connection settings for the Redis pub/sub bridge.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_BRIDGE_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_WS_PREFIX" envDefault:"socket:ws:"`
}

// DefaultRedisConfig returns the configuration used when no variables are set.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "socket:ws:",
	}
}

// RedisConfigFromEnv loads the bridge configuration from the environment.
func RedisConfigFromEnv() (*RedisConfig, error) {
	cfg := &RedisConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse redis bridge env: %w", err)
	}
	return cfg, nil
}

// Topic is the Redis channel every instance publishes to and listens on.
func (c *RedisConfig) Topic() string {
	return c.Prefix + "broadcast"
}
