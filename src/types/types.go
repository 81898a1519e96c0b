package types

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Conn abstracts a WebSocket transport for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Request is the snapshot of the upgrade request taken before the
// transport takes over the underlying connection.
type Request struct {
	Path       string
	Query      url.Values
	Header     http.Header
	RemoteAddr string
}

// UserAgent returns the User-Agent header, if any.
func (r *Request) UserAgent() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("User-Agent")
}

// Identity is the principal resolved during the handshake.
type Identity struct {
	UserID string         `json:"user_id,omitempty"`
	Claims map[string]any `json:"claims,omitempty"`
}

// Anonymous reports whether no user was resolved.
func (i Identity) Anonymous() bool { return i.UserID == "" }

// Middleware runs against a connection context. A non-nil error halts the chain.
type Middleware interface {
	Handle(ctx *Context) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx *Context) error

func (f MiddlewareFunc) Handle(ctx *Context) error { return f(ctx) }

// IdentityResolver resolves the principal once global middleware has run.
type IdentityResolver interface {
	Resolve(ctx *Context) (userID string, identity Identity, err error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(ctx *Context) (string, Identity, error)

func (f IdentityResolverFunc) Resolve(ctx *Context) (string, Identity, error) { return f(ctx) }

// ClientInfo holds metadata about a connected WebSocket client.
type ClientInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Channels    []string  `json:"channels"`
	UserAgent   string    `json:"user_agent,omitempty"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	State       string    `json:"state"`
}

// Context is the value bag shared by middleware and handlers for the whole
// life of one connection.
type Context struct {
	context.Context

	Request      *Request
	ConnectionID string

	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates the context for a connection.
func NewContext(parent context.Context, req *Request, connectionID string) *Context {
	if parent == nil {
		parent = context.Background()
	}
	if req == nil {
		req = &Request{}
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Query == nil {
		req.Query = make(url.Values)
	}
	return &Context{
		Context:      parent,
		Request:      req,
		ConnectionID: connectionID,
		values:       make(map[string]any),
	}
}

// Set stores a value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Value looks up string keys in the bag before delegating to the parent.
func (c *Context) Value(key any) any {
	if k, ok := key.(string); ok {
		if v, found := c.Get(k); found {
			return v
		}
	}
	return c.Context.Value(key)
}
