package packet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Control events handled by the connection itself before any listener sees them.
const (
	EventPing                      = "PING"
	EventPong                      = "PONG"
	EventChannelSubscribeRequest   = "CHANNEL_SUBSCRIBE_REQUEST"
	EventChannelUnsubscribeRequest = "CHANNEL_UNSUBSCRIBE_REQUEST"
	EventChannelSubscribeResponse  = "CHANNEL_SUBSCRIBE_RESPONSE"
)

const excerptLimit = 64

// Packet is the unit exchanged over a connection.
type Packet struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SubscribeRequest is the payload of subscribe and unsubscribe requests.
type SubscribeRequest struct {
	Channel string `json:"channel"`
}

// SubscribeResponse is the payload of CHANNEL_SUBSCRIBE_RESPONSE.
type SubscribeResponse struct {
	Channel    string `json:"channel"`
	Successful bool   `json:"successful"`
}

// MalformedPacketError reports an inbound payload that could not be decoded.
type MalformedPacketError struct {
	Excerpt string
	Err     error
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed packet %q: %v", e.Excerpt, e.Err)
}

func (e *MalformedPacketError) Unwrap() error { return e.Err }

var errMissingEvent = errors.New("missing event")

// IsForChannel reports whether the packet targets a channel.
func (p Packet) IsForChannel() bool {
	return p.Channel != ""
}

// Bind decodes the packet data into v.
func (p Packet) Bind(v any) error {
	if len(p.Data) == 0 {
		return &MalformedPacketError{Excerpt: p.Event, Err: errors.New("missing data")}
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return &MalformedPacketError{Excerpt: excerpt(p.Data), Err: err}
	}
	return nil
}

// New builds an outbound packet, marshalling data.
func New(event, channel string, data any) (Packet, error) {
	p := Packet{Event: event, Channel: channel}
	if data == nil {
		return p, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		p.Data = raw
		return p, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Packet{}, fmt.Errorf("encode %s data: %w", event, err)
	}
	p.Data = raw
	return p, nil
}

// Encode returns the wire form of a packet. An empty channel is omitted.
func Encode(event, channel string, data any) ([]byte, error) {
	p, err := New(event, channel, data)
	if err != nil {
		return nil, err
	}
	return p.Marshal()
}

// Marshal returns the wire form of p.
func (p Packet) Marshal() ([]byte, error) {
	if p.Event == "" {
		return nil, errMissingEvent
	}
	return json.Marshal(p)
}

// Decode parses an inbound payload. Every failure is a *MalformedPacketError.
func Decode(raw []byte) (Packet, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Packet{}, &MalformedPacketError{Excerpt: excerpt(raw), Err: errors.New("not a JSON object")}
	}

	var p Packet
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return Packet{}, &MalformedPacketError{Excerpt: excerpt(raw), Err: err}
	}
	if p.Event == "" {
		return Packet{}, &MalformedPacketError{Excerpt: excerpt(raw), Err: errMissingEvent}
	}
	if bytes.Equal(p.Data, []byte("null")) {
		p.Data = nil
	}
	return p, nil
}

func excerpt(raw []byte) string {
	if len(raw) > excerptLimit {
		return string(raw[:excerptLimit]) + "..."
	}
	return string(raw)
}
