package terminal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum inbound message size: one full frame plus header.
	maxMessageSize = MaxFramePayload + frameHeaderLength
)

// Conn is the client side of a terminal session. ReadFrame and WriteFrame are
// each called from a single goroutine; Close may be called from any.
type Conn interface {
	// ReadFrame blocks until the client sends the next message.
	ReadFrame() ([]byte, error)
	// WriteFrame sends one message to the client.
	WriteFrame(data []byte) error
	// Close closes the connection, unblocking ReadFrame.
	Close() error
}

// WSConn adapts a WebSocket connection to Conn. In framed mode messages are
// binary, otherwise text.
type WSConn struct {
	conn   *websocket.Conn
	framed bool

	mu        sync.Mutex
	closeOnce sync.Once
}

// NewWSConn wraps conn. framed selects binary messages.
func NewWSConn(conn *websocket.Conn, framed bool) *WSConn {
	conn.SetReadLimit(maxMessageSize)
	return &WSConn{conn: conn, framed: framed}
}

// Framed reports whether the connection negotiated the framed protocol.
func (c *WSConn) Framed() bool {
	return c.framed
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReadFrame implements Conn.
func (c *WSConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteFrame implements Conn.
func (c *WSConn) WriteFrame(data []byte) error {
	kind := websocket.TextMessage
	if c.framed {
		kind = websocket.BinaryMessage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// CloseWithCode sends a close frame carrying code and reason, then closes
// the connection.
func (c *WSConn) CloseWithCode(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// Close implements Conn with a normal closure.
func (c *WSConn) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}
