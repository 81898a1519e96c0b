package bridge

import "context"

// Bridge relays channel broadcasts between server instances.
type Bridge interface {
	// Publish sends an encoded packet for channel to the other instances.
	Publish(channel string, payload []byte) error

	// Start begins listening for broadcasts from other instances.
	Start(ctx context.Context) error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive relayed broadcasts.
type BroadcastTarget interface {
	BroadcastToLocal(channel string, payload []byte)
}
