package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/npaste/internal/services"
)

const healthTimeout = 3 * time.Second

// SystemHandler handles system endpoints
type SystemHandler struct {
	service *services.PasteService
	logger  *slog.Logger
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(service *services.PasteService, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{service: service, logger: logger}
}

// Health handles GET <api>/healthz by pinging the storage backend.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.service.Health(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":    false,
			"error": "Storage backend unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
