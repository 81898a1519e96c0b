package listener

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orchestra-mcp/socket/src/channel"
)

// Resolver looks up listeners by registry key.
type Resolver interface {
	LookupChannel(key string) (ChannelFactory, bool)
	LookupEvent(key string) (EventListener, bool)
}

// Registry is the in-memory Resolver, populated at startup.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]ChannelFactory
	events   map[string]EventListener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]ChannelFactory),
		events:   make(map[string]EventListener),
	}
}

// Channel registers factory for the family named by pattern
// ("room.*" or "room"). A later registration replaces an earlier one.
func (r *Registry) Channel(pattern string, factory ChannelFactory) error {
	if factory == nil {
		return fmt.Errorf("channel %q: nil factory", pattern)
	}
	info, err := channel.Parse(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[info.ListenerKey] = factory
	return nil
}

// Event registers l for a connection-scoped event name.
func (r *Registry) Event(event string, l EventListener) error {
	if event == "" || l == nil {
		return fmt.Errorf("event %q: listener and name are required", event)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[channel.EventKey(event)] = l
	return nil
}

// LookupChannel returns the factory registered under key.
func (r *Registry) LookupChannel(key string) (ChannelFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.channels[key]
	return f, ok
}

// LookupEvent returns the event listener registered under key.
func (r *Registry) LookupEvent(key string) (EventListener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.events[key]
	return l, ok
}

// Keys lists every registered key, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.channels)+len(r.events))
	for k := range r.channels {
		keys = append(keys, k)
	}
	for k := range r.events {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
