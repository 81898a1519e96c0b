package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/socket/src/channel"
	"github.com/orchestra-mcp/socket/src/packet"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload []byte
}

type fakeBridge struct {
	mu        sync.Mutex
	available bool
	fail      bool
	sent      []published
}

func (b *fakeBridge) Publish(ch string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("redis down")
	}
	b.sent = append(b.sent, published{channel: ch, payload: payload})
	return nil
}

func (b *fakeBridge) Available() bool { return b.available }

func (b *fakeBridge) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.sent...)
}

func subscribeTo(t *testing.T, f *fixture, conn *mockConn, name string, n int) {
	t.Helper()
	conn.push(`{"event":"CHANNEL_SUBSCRIBE_REQUEST","data":{"channel":"` + name + `"}}`)
	resp := waitForResponse(t, conn, n)
	require.True(t, resp[n-1].Successful)
}

func TestBroadcastReachesSubscribersOnly(t *testing.T) {
	f := newFixture(t)
	_, conn1 := f.connect(t, nil)
	_, conn2 := f.connect(t, nil)
	_, outsider := f.connect(t, nil)

	subscribeTo(t, f, conn1, "room.42", 1)
	subscribeTo(t, f, conn2, "room.42", 1)
	subscribeTo(t, f, outsider, "room.7", 1)

	require.NoError(t, f.hub.Broadcast("room.42", "chat", map[string]string{"text": "hello"}))

	for _, conn := range []*mockConn{conn1, conn2} {
		require.Eventually(t, func() bool {
			return len(conn.eventsNamed(t, "chat")) == 1
		}, waitFor, 5*time.Millisecond)
		p := conn.eventsNamed(t, "chat")[0]
		assert.Equal(t, "room.42", p.Channel)
		assert.JSONEq(t, `{"text":"hello"}`, string(p.Data))
	}

	f.sync(t, outsider, "done")
	assert.Empty(t, outsider.eventsNamed(t, "chat"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Broadcasts))
}

func TestBroadcastWithoutSubscribersIsNoop(t *testing.T) {
	f := newFixture(t)
	_, conn := f.connect(t, nil)

	assert.NoError(t, f.hub.Broadcast("room.1", "chat", nil))
	assert.Zero(t, f.hub.broadcastToChannel("room.1", []byte(`{"event":"x"}`)))
	assert.Empty(t, conn.packets(t))
}

func TestBroadcastRejectsInvalidChannel(t *testing.T) {
	f := newFixture(t)
	err := f.hub.Broadcast("no spaces.1", "chat", nil)
	assert.ErrorIs(t, err, channel.ErrInvalidChannelName)

	err = f.hub.Broadcast("room.1", "", nil)
	assert.Error(t, err)
}

func TestBroadcastSkipsClosedClients(t *testing.T) {
	f := newFixture(t)
	c1, conn1 := f.connect(t, nil)
	_, conn2 := f.connect(t, nil)
	subscribeTo(t, f, conn1, "room.1", 1)
	subscribeTo(t, f, conn2, "room.1", 1)

	c1.Disconnect("left")
	assert.Equal(t, 1, f.hub.Channels()["room.1"])

	require.NoError(t, f.hub.Broadcast("room.1", "chat", nil))
	require.Eventually(t, func() bool {
		return len(conn2.eventsNamed(t, "chat")) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Empty(t, conn1.eventsNamed(t, "chat"))
}

func TestBroadcastConcurrentWithDisconnect(t *testing.T) {
	f := newFixture(t)
	var clients []*Client
	for i := 0; i < 8; i++ {
		c, conn := f.connect(t, nil)
		subscribeTo(t, f, conn, "room.1", 1)
		clients = append(clients, c)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = f.hub.Broadcast("room.1", "chat", j)
			}
		}()
	}
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Disconnect("churn")
		}(c)
	}
	wg.Wait()

	assert.Zero(t, f.hub.ClientCount())
	assert.Empty(t, f.hub.Channels())
}

func TestBroadcastPublishesToBridge(t *testing.T) {
	f := newFixture(t)
	b := &fakeBridge{available: true}
	f.hub.SetBridge(b)

	require.NoError(t, f.hub.Broadcast("room.9", "chat", "hi"))

	msgs := b.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "room.9", msgs[0].channel)

	p, err := packet.Decode(msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "chat", p.Event)
	assert.Equal(t, "room.9", p.Channel)
}

func TestBroadcastSkipsUnavailableBridge(t *testing.T) {
	f := newFixture(t)
	b := &fakeBridge{available: false}
	f.hub.SetBridge(b)
	_, conn := f.connect(t, nil)
	subscribeTo(t, f, conn, "room.1", 1)

	require.NoError(t, f.hub.Broadcast("room.1", "chat", nil))
	assert.Empty(t, b.messages())

	b.available, b.fail = true, true
	require.NoError(t, f.hub.Broadcast("room.1", "chat", nil))
	require.Eventually(t, func() bool {
		return len(conn.eventsNamed(t, "chat")) == 2
	}, waitFor, 5*time.Millisecond)
}

func TestBroadcastToLocalDoesNotRepublish(t *testing.T) {
	f := newFixture(t)
	b := &fakeBridge{available: true}
	f.hub.SetBridge(b)
	_, conn := f.connect(t, nil)
	subscribeTo(t, f, conn, "room.1", 1)

	payload, err := packet.Encode("chat", "room.1", "remote")
	require.NoError(t, err)
	f.hub.BroadcastToLocal("room.1", payload)

	require.Eventually(t, func() bool {
		return len(conn.eventsNamed(t, "chat")) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Empty(t, b.messages())
}

func TestSendToClient(t *testing.T) {
	f := newFixture(t)
	c, conn := f.connect(t, nil)

	require.NoError(t, f.hub.SendToClient(c.ID(), "notice", "hi"))
	require.Eventually(t, func() bool {
		return len(conn.eventsNamed(t, "notice")) == 1
	}, waitFor, 5*time.Millisecond)

	assert.ErrorIs(t, f.hub.SendToClient("missing", "notice", nil), ErrClientNotFound)
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Identity = types.IdentityResolverFunc(func(ctx *types.Context) (string, types.Identity, error) {
			id := ctx.Request.Query.Get("user")
			return id, types.Identity{UserID: id}, nil
		})
	})

	_, conn1 := f.connect(t, &types.Request{Query: map[string][]string{"user": {"u1"}}})
	_, conn2 := f.connect(t, &types.Request{Query: map[string][]string{"user": {"u1"}}})
	_, other := f.connect(t, &types.Request{Query: map[string][]string{"user": {"u2"}}})

	n, err := f.hub.SendToUser("u1", "notice", "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, conn := range []*mockConn{conn1, conn2} {
		require.Eventually(t, func() bool {
			return len(conn.eventsNamed(t, "notice")) == 1
		}, waitFor, 5*time.Millisecond)
	}
	assert.Empty(t, other.eventsNamed(t, "notice"))

	n, err = f.hub.SendToUser("nobody", "notice", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendBufferFullDropsPacket(t *testing.T) {
	f := newFixture(t)
	f.cfg.SendBufferSize = 1

	conn := newMockConn()
	c, err := f.hub.Accept(t.Context(), conn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Disconnect("test cleanup") })

	require.NoError(t, c.Send("one", nil))
	assert.ErrorIs(t, c.Send("two", nil), ErrSendBufferFull)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PacketsDropped.WithLabelValues("buffer_full")))
}

func TestSendPacket(t *testing.T) {
	f := newFixture(t)
	c, conn := f.connect(t, nil)

	p, err := packet.New("notice", "room.3", map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, c.SendPacket(p))
	require.Eventually(t, func() bool {
		return len(conn.eventsNamed(t, "notice")) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "room.3", conn.eventsNamed(t, "notice")[0].Channel)

	assert.Error(t, c.SendPacket(packet.Packet{}))
}
