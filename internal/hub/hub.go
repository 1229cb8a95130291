// Package hub implements the event-channel connection registry and its
// WebSocket pumps.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/event"
)

// DefaultQueueSize is the per-client outbound queue depth.
const DefaultQueueSize = 256

var (
	// ErrClientClosed is returned by Send after the client has been closed.
	ErrClientClosed = errors.New("client is closed")

	// ErrQueueFull is returned by Send when the client cannot keep up. The
	// client is closed as a side effect.
	ErrQueueFull = errors.New("client send queue is full")
)

// Client is one event-channel subscriber. Frames queued with Send are written
// in order by a single write pump.
type Client struct {
	id     string
	remote string
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client around conn. conn may be nil when the caller
// drains SendChan itself.
func NewClient(conn *websocket.Conn, remote string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		id:     uuid.NewString(),
		remote: remote,
		conn:   conn,
		send:   make(chan []byte, queueSize),
	}
}

// Send queues a frame for delivery.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return ErrQueueFull
	}
}

// Close closes the client's queue. The write pump sends a close frame and exits.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the client's connection id.
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the peer address recorded at connect time.
func (c *Client) RemoteAddr() string {
	return c.remote
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the client's outbound queue.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Registry tracks live event-channel clients and fans events out to them.
// Membership changes are serialized by mu; Broadcast works on a snapshot.
type Registry struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	log     pslog.Logger

	onMessage func(client *Client, payload json.RawMessage)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger pslog.Logger) *Registry {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Registry{
		clients: make(map[*Client]struct{}),
		log:     logger,
	}
}

// SetOnMessage sets the callback for well-formed inbound client frames.
// Without one, inbound frames are validated and discarded.
func (r *Registry) SetOnMessage(callback func(client *Client, payload json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMessage = callback
}

// Register adds a client to the registry.
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	r.clients[client] = struct{}{}
	count := len(r.clients)
	r.mu.Unlock()
	r.log.Info("event client registered", "conn", client.ID(), "remote", client.RemoteAddr(), "clients", count)
}

// Unregister removes a client and closes it. Unregistering a client that is
// not registered only closes it.
func (r *Registry) Unregister(client *Client) {
	r.mu.Lock()
	_, present := r.clients[client]
	delete(r.clients, client)
	count := len(r.clients)
	r.mu.Unlock()

	client.Close()

	if present {
		r.log.Info("event client unregistered", "conn", client.ID(), "remote", client.RemoteAddr(), "clients", count)
	}
}

// Broadcast delivers e to every client registered at the time of the call.
// Clients that fail to accept the frame are logged and pruned; delivery to
// the rest continues. Broadcast never reports failure to its caller.
func (r *Registry) Broadcast(e event.Event) {
	data, err := event.Encode(e)
	if err != nil {
		r.log.Error("broadcast encode failed", "err", err)
		return
	}
	r.BroadcastFrame(data)
}

// BroadcastFrame delivers an already-encoded frame to every registered client.
func (r *Registry) BroadcastFrame(data []byte) {
	r.mu.Lock()
	snapshot := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		snapshot = append(snapshot, client)
	}
	r.mu.Unlock()

	for _, client := range snapshot {
		if err := client.Send(data); err != nil {
			r.log.Warn("event delivery failed, pruning client", "conn", client.ID(), "remote", client.RemoteAddr(), "err", err)
			r.Unregister(client)
		}
	}
}

// SendTo delivers e to a single client.
func (r *Registry) SendTo(client *Client, e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}
	return client.Send(data)
}

// Contains reports whether client is currently registered.
func (r *Registry) Contains(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[client]
	return ok
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// HandleMessage passes an inbound frame to the OnMessage callback. Frames that
// are not valid JSON are dropped without affecting the connection.
func (r *Registry) HandleMessage(client *Client, payload []byte) {
	if !json.Valid(payload) {
		r.log.Debug("dropping malformed event-channel frame", "conn", client.ID(), "bytes", len(payload))
		return
	}

	r.mu.Lock()
	callback := r.onMessage
	r.mu.Unlock()

	if callback != nil {
		callback(client, json.RawMessage(payload))
	}
}

// Close unregisters and closes every client.
func (r *Registry) Close() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	r.clients = make(map[*Client]struct{})
	r.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
