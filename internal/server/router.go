package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/npaste/config"
	"github.com/johnwmail/npaste/handlers"
	"github.com/johnwmail/npaste/internal/metrics"
	"github.com/johnwmail/npaste/internal/services"
	"github.com/johnwmail/npaste/static"
)

// NewRouter creates and configures the Gin router. m may be nil.
func NewRouter(cfg *config.Config, service *services.PasteService, m *metrics.Metrics, logger *slog.Logger) *gin.Engine {
	pasteHandler := handlers.NewPasteHandler(service, cfg, logger)
	webuiHandler := handlers.NewWebUIHandler(service, cfg, logger)
	systemHandler := handlers.NewSystemHandler(service, logger)

	router := gin.New()

	// canonicalErrors buffers the body, so recovery sits inside it to keep
	// panic responses in that buffer.
	router.Use(requestID())
	router.Use(requestLogger(logger))
	router.Use(cors())
	router.Use(canonicalErrors(logger))
	router.Use(jsonRecovery(logger))

	router.SetHTMLTemplate(static.Templates())

	// Web UI routes
	router.GET("/", webuiHandler.Index)
	router.POST("/", webuiHandler.Submit)
	router.GET("/p/:id", pasteHandler.View)
	router.GET("/p/:id/qr.png", pasteHandler.QRCode)

	// JSON API
	api := router.Group(cfg.APIPrefix)
	api.POST("/pastes", pasteHandler.Create)
	api.GET("/pastes/:id", pasteHandler.Get)
	api.GET("/healthz", systemHandler.Health)

	if cfg.EnableMetrics && m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// Global 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
	})

	return router
}
