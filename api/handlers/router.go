package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/hub"
	"github.com/eCy-coding/eCyOs/internal/ingress"
	"github.com/eCy-coding/eCyOs/internal/session"
)

// RouterConfig carries the services exposed over HTTP.
type RouterConfig struct {
	Hub      *hub.Handler
	Sessions *session.Manager
	Ingress  *ingress.Service
	Logger   pslog.Logger
}

// NewRouter builds the HTTP routes of the bridge.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	r := gin.New()
	r.Use(gin.RecoveryWithWriter(pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel).Writer()))
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	api := r.Group("/api")
	{
		NewIngressHandler(cfg.Ingress).RegisterRoutes(api)
		NewSessionHandler(cfg.Sessions).RegisterRoutes(api)
	}

	NewWebSocketHandler(cfg.Hub, cfg.Sessions).RegisterRoutes(r.Group("/ws"))
	return r
}

// requestLogger attaches a request-scoped logger to the context and logs
// each request once it completes.
func requestLogger(base pslog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := base.With("remote", c.ClientIP())
		c.Request = c.Request.WithContext(pslog.ContextWithLogger(c.Request.Context(), logger))

		c.Next()

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}
		logger.Info("http request", "method", c.Request.Method, "path", path, "status", c.Writer.Status(), "bytes", c.Writer.Size(), "duration_ms", time.Since(start).Milliseconds())
		logger.Debug("http request details", "ua", c.Request.UserAgent())
	}
}

// corsMiddleware allows browser clients served from another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
