package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/hub"
	"github.com/eCy-coding/eCyOs/internal/model"
	"github.com/eCy-coding/eCyOs/internal/session"
	"github.com/eCy-coding/eCyOs/internal/terminal"
)

// WebSocketHandler serves the event channel and the terminal channel.
type WebSocketHandler struct {
	hubHandler     *hub.Handler
	sessionManager *session.Manager
	upgrader       websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(hubHandler *hub.Handler, sessionManager *session.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		hubHandler:     hubHandler,
		sessionManager: sessionManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{terminal.Subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Brain handles GET /ws/brain - the event channel.
func (h *WebSocketHandler) Brain(c *gin.Context) {
	if err := h.hubHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error.
		pslog.Ctx(c.Request.Context()).Debug("event channel upgrade failed", "err", err)
	}
}

// Terminal handles GET /ws/terminal - bridges one shell to the client. The
// optional rows and cols query parameters set the initial window size.
func (h *WebSocketHandler) Terminal(c *gin.Context) {
	rows, errRows := parseDimension(c.Query("rows"))
	cols, errCols := parseDimension(c.Query("cols"))
	if errRows != nil || errCols != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "rows and cols must be integers between 1 and 65535")
		return
	}

	logger := pslog.Ctx(c.Request.Context())
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("terminal upgrade failed", "err", err)
		return
	}

	framed := ws.Subprotocol() == terminal.Subprotocol
	conn := terminal.NewWSConn(ws, framed)

	s, err := h.sessionManager.Open(c.Request.Context(), conn, session.OpenRequest{
		RemoteAddr: c.Request.RemoteAddr,
		Framed:     framed,
		Rows:       rows,
		Cols:       cols,
	})
	if err != nil {
		code, reason := closeCodeFor(err)
		logger.Warn("terminal session refused", "remote", c.Request.RemoteAddr, "err", err)
		conn.CloseWithCode(code, reason)
		return
	}

	<-s.Done()
}

// closeCodeFor maps an Open error to a WebSocket close code.
func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrSessionLimit):
		return websocket.CloseTryAgainLater, "session limit reached"
	case errors.Is(err, model.ErrManagerClosed):
		return websocket.CloseGoingAway, "server shutting down"
	default:
		return websocket.CloseInternalServerErr, "failed to start shell"
	}
}

func parseDimension(raw string) (uint16, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, strconv.ErrRange
	}
	return uint16(n), nil
}

// RegisterRoutes registers the WebSocket routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/brain", h.Brain)
	rg.GET("/terminal", h.Terminal)
}
