package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/npaste/config"
	"github.com/johnwmail/npaste/internal/services"
	"github.com/johnwmail/npaste/models"
)

// WebUIHandler handles web interface
type WebUIHandler struct {
	service *services.PasteService
	config  *config.Config
	logger  *slog.Logger
}

// NewWebUIHandler creates a new web UI handler
func NewWebUIHandler(service *services.PasteService, config *config.Config, logger *slog.Logger) *WebUIHandler {
	return &WebUIHandler{
		service: service,
		config:  config,
		logger:  logger,
	}
}

func (h *WebUIHandler) page(c *gin.Context) gin.H {
	return gin.H{
		"Title":     "npaste - Share text that expires",
		"BaseURL":   baseURL(c, h.config),
		"APIPrefix": h.config.APIPrefix,
		"Version":   h.config.Version,
	}
}

// Index handles the main page via GET /
func (h *WebUIHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", h.page(c))
}

// Submit handles the create form via POST / and redirects to the new paste.
func (h *WebUIHandler) Submit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxContentSize)

	content := c.PostForm("content")
	req := services.CreatePasteRequest{Content: content}

	var err error
	if req.TTLSeconds, err = formInt("ttl_seconds", c.PostForm("ttl_seconds")); err == nil {
		req.MaxViews, err = formInt("max_views", c.PostForm("max_views"))
	}

	var resp *services.CreatePasteResponse
	if err == nil {
		resp, err = h.service.CreatePaste(c.Request.Context(), req)
	}
	if err != nil {
		page := h.page(c)
		page["Content"] = content
		status := http.StatusInternalServerError
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			status = http.StatusBadRequest
			page["Error"] = verr.Error()
		} else {
			_ = c.Error(err)
			page["Error"] = "Failed to create paste, please try again"
		}
		c.HTML(status, "index.html", page)
		return
	}

	c.Redirect(http.StatusSeeOther, "/p/"+resp.ID)
}

// formInt parses an optional integer form field; blank means absent.
func formInt(name, value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, &services.ValidationError{Field: name, Message: "must be an integer >= 1"}
	}
	return models.Int(n), nil
}
