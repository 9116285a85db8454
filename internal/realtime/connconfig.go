package realtime

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// websocketPath is appended to the hub's base URL.
const websocketPath = "/api/websocket"

// Credentials is a consistent snapshot of a ConnectionConfig.
type Credentials struct {
	Endpoint string
	Token    string

	// Version increments on every change and lets a running attempt detect
	// that it was started with stale credentials.
	Version uint64
}

// Complete reports whether both endpoint and token are set.
func (c Credentials) Complete() bool {
	return c.Endpoint != "" && c.Token != ""
}

// ConnectionConfig holds the hub endpoint and token. It may be changed at
// runtime; a change closes any live socket so that the next attempt picks up
// the new values.
type ConnectionConfig struct {
	mu        sync.RWMutex
	creds     Credentials
	changed   chan struct{}
	listeners map[uint64]func()
	nextID    uint64
}

// NewConnectionConfig creates a config holding endpoint and token.
// Either may be empty.
func NewConnectionConfig(endpoint, token string) *ConnectionConfig {
	return &ConnectionConfig{
		creds: Credentials{
			Endpoint: normaliseEndpoint(endpoint),
			Token:    strings.TrimSpace(token),
		},
		changed:   make(chan struct{}),
		listeners: make(map[uint64]func()),
	}
}

// Snapshot returns the current endpoint and token together.
func (c *ConnectionConfig) Snapshot() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// Set replaces the endpoint and token. It returns false if neither value
// changed, in which case no listener is notified.
func (c *ConnectionConfig) Set(endpoint, token string) bool {
	endpoint = normaliseEndpoint(endpoint)
	token = strings.TrimSpace(token)

	c.mu.Lock()
	if c.creds.Endpoint == endpoint && c.creds.Token == token {
		c.mu.Unlock()
		return false
	}
	c.creds = Credentials{Endpoint: endpoint, Token: token, Version: c.creds.Version + 1}
	close(c.changed)
	c.changed = make(chan struct{})
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

// Changed returns a channel that is closed by the next successful Set.
func (c *ConnectionConfig) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// onChange registers fn to run after every successful Set and returns a
// function that removes it.
func (c *ConnectionConfig) onChange(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func normaliseEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// RealtimeURL derives the websocket URL from a hub base URL:
// http becomes ws, https becomes wss, and /api/websocket is appended.
// ws and wss URLs are accepted as given.
func RealtimeURL(endpoint string) (string, error) {
	endpoint = normaliseEndpoint(endpoint)
	if endpoint == "" {
		return "", ErrMissingConfig
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}

	u.Path = strings.TrimRight(u.Path, "/") + websocketPath
	u.RawPath = ""
	return u.String(), nil
}
