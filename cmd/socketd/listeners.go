package main

import (
	"strings"

	"github.com/orchestra-mcp/socket/src/channel"
	"github.com/orchestra-mcp/socket/src/listener"
	"github.com/orchestra-mcp/socket/src/packet"
	"github.com/orchestra-mcp/socket/src/service"
	"github.com/orchestra-mcp/socket/src/types"
)

type chatMessage struct {
	Text string `json:"text"`
}

type chatBroadcast struct {
	From string `json:"from"`
	Room string `json:"room"`
	Text string `json:"text"`
}

// roomListener serves "room.<id>": members chat and see each other type.
type roomListener struct {
	listener.Base
	svc            *service.Service
	allowAnonymous bool
}

func (r *roomListener) Authorize(_ listener.Connection, identity types.Identity) (bool, error) {
	return r.allowAnonymous || !identity.Anonymous(), nil
}

func (r *roomListener) Handler(event string) (listener.HandlerFunc, bool) {
	return listener.Handlers{
		"chat":   r.chat,
		"typing": r.typing,
	}.Lookup(event)
}

func (r *roomListener) chat(conn listener.Connection, identity types.Identity, p packet.Packet) error {
	var msg chatMessage
	if err := p.Bind(&msg); err != nil {
		return err
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	return r.svc.Publish(r.Info.Name, "chat", chatBroadcast{
		From: sender(conn, identity),
		Room: r.Info.Wildcard,
		Text: text,
	})
}

func (r *roomListener) typing(conn listener.Connection, identity types.Identity, _ packet.Packet) error {
	return r.svc.Publish(r.Info.Name, "typing", map[string]string{"from": sender(conn, identity)})
}

// userListener serves "user.<id>", a private channel for server pushes.
type userListener struct {
	listener.Base
}

func (u *userListener) Authorize(_ listener.Connection, identity types.Identity) (bool, error) {
	return !identity.Anonymous() && identity.UserID == u.Info.Wildcard, nil
}

func (u *userListener) Handler(string) (listener.HandlerFunc, bool) { return nil, false }

func sender(conn listener.Connection, identity types.Identity) string {
	if identity.Anonymous() {
		return conn.ID()
	}
	return identity.UserID
}

func registerListeners(svc *service.Service, allowAnonymous bool) error {
	if err := svc.RegisterChannel("room.*", func(info channel.Info) listener.ChannelListener {
		return &roomListener{Base: listener.Base{Info: info}, svc: svc, allowAnonymous: allowAnonymous}
	}); err != nil {
		return err
	}
	if err := svc.RegisterChannel("user.*", func(info channel.Info) listener.ChannelListener {
		return &userListener{Base: listener.Base{Info: info}}
	}); err != nil {
		return err
	}
	return svc.RegisterEvent("whoami", listener.EventFunc(func(conn listener.Connection, identity types.Identity, _ packet.Packet) error {
		return conn.Send("whoami", identity)
	}))
}
