package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/socket/src/channel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrNotStarted = errors.New("redis bridge not started")

// envelope tags a broadcast with the originating instance so a node can
// skip its own messages.
type envelope struct {
	InstanceID string          `json:"instance_id"`
	Channel    string          `json:"channel"`
	Payload    json.RawMessage `json:"payload"`
}

var _ Bridge = (*RedisBridge)(nil)

// RedisBridge relays channel broadcasts between instances via Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	topic      string
	instanceID string
	target     BroadcastTarget
	logger     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisBridge creates a bridge that publishes to and relays from cfg.Topic().
func NewRedisBridge(cfg *RedisConfig, target BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisBridge{
		client:     client,
		topic:      cfg.Topic(),
		instanceID: uuid.New().String(),
		target:     target,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
	}
}

// InstanceID identifies this node on the bridge.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the broadcast topic and relays messages until ctx is
// done or Stop is called.
func (b *RedisBridge) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	sub := b.client.Subscribe(listenCtx, b.topic)
	if _, err := sub.Receive(listenCtx); err != nil {
		cancel()
		_ = sub.Close()
		return err
	}

	b.mu.Lock()
	b.active = true
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(listenCtx, sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("topic", b.topic).
		Msg("redis bridge started")
	return nil
}

// Publish sends an encoded packet for channel to the other instances.
func (b *RedisBridge) Publish(channelName string, payload []byte) error {
	if !b.Available() {
		return ErrNotStarted
	}
	data, err := b.encode(channelName, payload)
	if err != nil {
		return err
	}
	return b.client.Publish(context.Background(), b.topic, data).Err()
}

func (b *RedisBridge) encode(channelName string, payload []byte) ([]byte, error) {
	return json.Marshal(envelope{
		InstanceID: b.instanceID,
		Channel:    channelName,
		Payload:    payload,
	})
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

func (b *RedisBridge) listen(ctx context.Context, sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.relay([]byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// relay decodes an envelope and hands broadcasts from other instances to
// the local hub.
func (b *RedisBridge) relay(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	info, err := channel.Parse(env.Channel)
	if err != nil || len(env.Payload) == 0 {
		b.logger.Warn().Str("channel", env.Channel).Msg("dropping relayed message without a valid channel or payload")
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("channel", info.Name).
		Msg("relaying message from redis")

	b.target.BroadcastToLocal(info.Name, env.Payload)
}
