package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eCy-coding/eCyOs/internal/ingress"
	"github.com/eCy-coding/eCyOs/internal/model"
)

// IngressHandler handles event injection from the orchestration layer.
type IngressHandler struct {
	service *ingress.Service
}

// NewIngressHandler creates a new IngressHandler.
func NewIngressHandler(service *ingress.Service) *IngressHandler {
	return &IngressHandler{service: service}
}

// InjectThoughtRequest represents the request body for injecting a thought.
// Content is a pointer so that an empty string is accepted but a missing
// field is not.
type InjectThoughtRequest struct {
	Agent   string  `json:"agent" binding:"required"`
	Content *string `json:"content" binding:"required"`
	Role    string  `json:"role"`
}

// InjectLogRequest represents the request body for injecting a log line.
type InjectLogRequest struct {
	Content *string `json:"content" binding:"required"`
}

// BroadcastResponse acknowledges that events were handed to the hub.
type BroadcastResponse struct {
	Status string `json:"status"`
}

var broadcasted = BroadcastResponse{Status: "broadcasted"}

// InjectThought handles POST /api/inject_thought.
func (h *IngressHandler) InjectThought(c *gin.Context) {
	var req InjectThoughtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	_, err := h.service.InjectThought(c.Request.Context(), ingress.Thought{
		Agent:   req.Agent,
		Content: *req.Content,
		Role:    req.Role,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidThought) {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to inject thought: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, broadcasted)
}

// InjectLog handles POST /api/log.
func (h *IngressHandler) InjectLog(c *gin.Context) {
	var req InjectLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	h.service.InjectLog(c.Request.Context(), *req.Content)
	c.JSON(http.StatusOK, broadcasted)
}

// RegisterRoutes registers the ingress routes on a Gin router group.
func (h *IngressHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/inject_thought", h.InjectThought)
	rg.POST("/log", h.InjectLog)
}
