package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/socket/src/channel"
	"github.com/orchestra-mcp/socket/src/hub"
	"github.com/orchestra-mcp/socket/src/listener"
	"github.com/orchestra-mcp/socket/src/packet"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn implements types.Conn for testing without a real WebSocket.
type mockConn struct {
	mu      sync.Mutex
	written [][]byte
	readCh  chan []byte
	closeCh chan struct{}
	once    sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{readCh: make(chan []byte, 8), closeCh: make(chan struct{})}
}

func (m *mockConn) WriteMessage(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, data)
	return nil
}

func (m *mockConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-m.readCh:
		return msg, nil
	case <-m.closeCh:
		return nil, context.Canceled
	}
}

func (m *mockConn) Close() error {
	m.once.Do(func() { close(m.closeCh) })
	return nil
}

func (m *mockConn) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.written))
	for _, raw := range m.written {
		if p, err := packet.Decode(raw); err == nil {
			out = append(out, p.Event)
		}
	}
	return out
}

type openRoom struct{ listener.Base }

func (openRoom) Authorize(listener.Connection, types.Identity) (bool, error) { return true, nil }
func (openRoom) Handler(string) (listener.HandlerFunc, bool)               { return nil, false }

func newTestService(t *testing.T) *Service {
	t.Helper()
	registry := listener.NewRegistry()
	h := hub.New(hub.Options{
		Resolver: registry,
		Logger:   zerolog.Nop(),
		Identity: types.IdentityResolverFunc(func(ctx *types.Context) (string, types.Identity, error) {
			id := ctx.Request.Query.Get("user")
			return id, types.Identity{UserID: id}, nil
		}),
	})
	svc := New(h, registry, zerolog.Nop())
	require.NoError(t, svc.RegisterChannel("news.*", func(info channel.Info) listener.ChannelListener {
		return openRoom{listener.Base{Info: info}}
	}))
	return svc
}

func connect(t *testing.T, svc *Service, user string) (*hub.Client, *mockConn) {
	t.Helper()
	conn := newMockConn()
	req := &types.Request{Query: map[string][]string{"user": {user}}}
	c, err := svc.Hub().Accept(context.Background(), conn, req)
	require.NoError(t, err)
	go c.WritePump()
	go c.ReadPump()
	t.Cleanup(func() { c.Disconnect("test cleanup") })
	return c, conn
}

func subscribe(t *testing.T, c *hub.Client, conn *mockConn, name string) {
	t.Helper()
	conn.readCh <- []byte(`{"event":"CHANNEL_SUBSCRIBE_REQUEST","data":{"channel":"` + name + `"}}`)
	require.Eventually(t, func() bool { return c.Subscribed(name) }, time.Second, 5*time.Millisecond)
}

func TestServicePublish(t *testing.T) {
	svc := newTestService(t)
	c, conn := connect(t, svc, "u1")
	subscribe(t, c, conn, "news.sports")

	require.NoError(t, svc.Publish("news.sports", "headline", map[string]any{"title": "test"}))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{packet.EventChannelSubscribeResponse, "headline"}, conn.events())
	}, time.Second, 5*time.Millisecond)

	err := svc.Publish("bad channel", "headline", nil)
	assert.ErrorIs(t, err, channel.ErrInvalidChannelName)
}

func TestServiceSendToClient(t *testing.T) {
	svc := newTestService(t)
	c, conn := connect(t, svc, "u1")

	require.NoError(t, svc.SendToClient(c.ID(), "dm", map[string]any{"msg": "hi"}))
	require.Eventually(t, func() bool { return len(conn.events()) == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, svc.SendToClient("ghost", "dm", "hi"), hub.ErrClientNotFound)
}

func TestServiceSendToUser(t *testing.T) {
	svc := newTestService(t)
	_, a := connect(t, svc, "alice")
	_, b := connect(t, svc, "alice")
	_, other := connect(t, svc, "bob")

	n, err := svc.SendToUser("alice", "notify", "ping")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Eventually(t, func() bool {
		return len(a.events()) == 1 && len(b.events()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, other.events())
}

func TestServiceIntrospection(t *testing.T) {
	svc := newTestService(t)
	c1, conn1 := connect(t, svc, "u1")
	c2, conn2 := connect(t, svc, "u2")
	subscribe(t, c1, conn1, "news.alpha")
	subscribe(t, c2, conn2, "news.alpha")
	subscribe(t, c1, conn1, "news.beta")

	assert.Equal(t, map[string]int{"news.alpha": 2, "news.beta": 1}, svc.GetChannels())
	assert.Equal(t, Stats{Clients: 2, Channels: 2, Subscriptions: 3}, svc.Stats())
	assert.ElementsMatch(t, []string{c1.ID(), c2.ID()}, svc.GetConnectedClients())
	assert.Len(t, svc.GetClients(), 2)

	info, err := svc.GetClientInfo(c1.ID())
	require.NoError(t, err)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, []string{"news.alpha", "news.beta"}, info.Channels)

	_, err = svc.GetClientInfo("nonexistent")
	assert.ErrorIs(t, err, hub.ErrClientNotFound)
}

func TestServiceDisconnectAndCallbacks(t *testing.T) {
	svc := newTestService(t)

	var mu sync.Mutex
	var connected, disconnected []string
	svc.OnConnection(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		connected = append(connected, id)
	})
	svc.OnDisconnection(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		disconnected = append(disconnected, id)
	})

	c, _ := connect(t, svc, "u1")
	require.NoError(t, svc.Disconnect(c.ID(), "admin"))
	assert.ErrorIs(t, svc.Disconnect(c.ID(), "admin"), hub.ErrClientNotFound)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{c.ID()}, connected)
	assert.Equal(t, []string{c.ID()}, disconnected)
}

func TestServiceRegisterRejectsInvalidPatterns(t *testing.T) {
	svc := newTestService(t)

	err := svc.RegisterChannel("bad pattern.*", func(info channel.Info) listener.ChannelListener { return nil })
	assert.ErrorIs(t, err, channel.ErrInvalidChannelName)

	assert.Error(t, svc.RegisterEvent("", nil))
	require.NoError(t, svc.RegisterEvent("typing", listener.EventFunc(func(listener.Connection, types.Identity, packet.Packet) error {
		return nil
	})))
}
