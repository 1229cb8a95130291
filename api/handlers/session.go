package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eCy-coding/eCyOs/internal/model"
	"github.com/eCy-coding/eCyOs/internal/session"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	closeSessionTimeout = 10 * time.Second
)

// SessionHandler serves diagnostics for terminal sessions.
type SessionHandler struct {
	sessionManager *session.Manager
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionManager *session.Manager) *SessionHandler {
	return &SessionHandler{
		sessionManager: sessionManager,
	}
}

// SessionResponse represents a live session in API responses.
type SessionResponse struct {
	ID         string `json:"id"`
	PID        int    `json:"pid"`
	Shell      string `json:"shell"`
	RemoteAddr string `json:"remoteAddr"`
	Framed     bool   `json:"framed"`
	Rows       uint16 `json:"rows"`
	Cols       uint16 `json:"cols"`
	State      string `json:"state"`
	Duration   string `json:"duration"`
	StartedAt  string `json:"startedAt"`
}

// HistoryResponse represents a journal record in API responses.
type HistoryResponse struct {
	ID          string `json:"id"`
	Shell       string `json:"shell"`
	PID         *int   `json:"pid,omitempty"`
	RemoteAddr  string `json:"remoteAddr"`
	Status      string `json:"status"`
	ExitCode    *int   `json:"exitCode,omitempty"`
	Rows        uint16 `json:"rows"`
	Cols        uint16 `json:"cols"`
	PreviewLine string `json:"previewLine,omitempty"`
	Recorded    bool   `json:"recorded"`
	Duration    string `json:"duration"`
	StartedAt   string `json:"startedAt"`
	EndedAt     string `json:"endedAt,omitempty"`
}

func toSessionResponse(info model.SessionInfo) SessionResponse {
	return SessionResponse{
		ID:         info.ID,
		PID:        info.PID,
		Shell:      info.Shell,
		RemoteAddr: info.RemoteAddr,
		Framed:     info.Framed,
		Rows:       info.Rows,
		Cols:       info.Cols,
		State:      info.State,
		Duration:   formatDuration(time.Since(info.StartedAt)),
		StartedAt:  info.StartedAt.Format(time.RFC3339),
	}
}

func toHistoryResponse(rec *model.SessionRecord) HistoryResponse {
	resp := HistoryResponse{
		ID:          rec.ID,
		Shell:       rec.Shell,
		PID:         rec.PID,
		RemoteAddr:  rec.RemoteAddr,
		Status:      string(rec.Status),
		ExitCode:    rec.ExitCode,
		Rows:        rec.Rows,
		Cols:        rec.Cols,
		PreviewLine: rec.PreviewLine,
		Recorded:    rec.Recording != "",
		Duration:    formatDuration(rec.Duration()),
		StartedAt:   rec.StartedAt.Format(time.RFC3339),
	}
	if rec.EndedAt != nil {
		resp.EndedAt = rec.EndedAt.Format(time.RFC3339)
	}
	return resp
}

// List handles GET /api/sessions - lists live terminal sessions.
func (h *SessionHandler) List(c *gin.Context) {
	infos := h.sessionManager.List()
	response := make([]SessionResponse, len(infos))
	for i, info := range infos {
		response[i] = toSessionResponse(info)
	}
	c.JSON(http.StatusOK, response)
}

// History handles GET /api/sessions/history - lists journaled sessions.
func (h *SessionHandler) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = n
	}

	records, err := h.sessionManager.History(c.Request.Context(), limit)
	if err != nil {
		if errors.Is(err, model.ErrJournalDisabled) {
			sendError(c, http.StatusNotFound, "JOURNAL_DISABLED", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list session history: "+err.Error())
		return
	}

	response := make([]HistoryResponse, len(records))
	for i, rec := range records {
		response[i] = toHistoryResponse(rec)
	}
	c.JSON(http.StatusOK, response)
}

// Delete handles DELETE /api/sessions/:id - tears down a live session.
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), closeSessionTimeout)
	defer cancel()
	if err := h.sessionManager.CloseSession(ctx, sessionID); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to close session: "+err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// GetRecording handles GET /api/sessions/:id/recording - downloads the
// asciinema recording of a session.
func (h *SessionHandler) GetRecording(c *gin.Context) {
	sessionID := c.Param("id")

	rec, err := h.sessionManager.Record(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrSessionNotFound):
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		case errors.Is(err, model.ErrJournalDisabled):
			sendError(c, http.StatusNotFound, "JOURNAL_DISABLED", err.Error())
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get session: "+err.Error())
		}
		return
	}

	if rec.Recording == "" {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "No recording for session "+sessionID)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sessionID+".cast")
	c.File(rec.Recording)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/history", h.History)
		sessions.DELETE("/:id", h.Delete)
		sessions.GET("/:id/recording", h.GetRecording)
	}
}
