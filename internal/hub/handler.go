package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eCy-coding/eCyOs/internal/event"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// Greeting is sent to each new event-channel client before any broadcast.
const Greeting = "[BRIDGE] Connected to neural link."

// Handler upgrades HTTP requests to event-channel connections.
type Handler struct {
	registry  *Registry
	upgrader  websocket.Upgrader
	queueSize int
}

// NewHandler creates a handler that registers connections with registry.
func NewHandler(registry *Registry, queueSize int) *Handler {
	return &Handler{
		registry:  registry,
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Authentication and origin policy live in front of the bridge.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades the request and serves the connection until the
// peer goes away. It blocks for the lifetime of the connection.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, r.RemoteAddr, h.queueSize)
	// Queued before registration so no broadcast can overtake it.
	if err := h.registry.SendTo(client, event.Log{Content: Greeting}); err != nil {
		h.registry.log.Warn("greeting failed", "conn", client.ID(), "err", err)
	}
	h.registry.Register(client)

	go h.writePump(client)
	h.readPump(client)
	return nil
}

// readPump consumes inbound frames until the connection fails.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.registry.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.registry.log.Debug("event client read ended", "conn", client.ID(), "err", err)
			}
			return
		}
		h.registry.HandleMessage(client, message)
	}
}

// writePump writes queued frames, one WebSocket text frame per event, and
// keeps the connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				h.registry.log.Warn("event write failed, pruning client", "conn", client.ID(), "err", err)
				h.registry.Unregister(client)
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				h.registry.Unregister(client)
				return
			}
		}
	}
}
