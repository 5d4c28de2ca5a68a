package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/johnwmail/npaste/config"
	"github.com/johnwmail/npaste/internal/services"
	"github.com/johnwmail/npaste/models"
	"github.com/johnwmail/npaste/utils"
)

// TestNowHeader overrides the read clock when test mode is enabled.
const TestNowHeader = "x-test-now-ms"

// maxExactInteger is the largest integer a JSON number (float64) holds exactly.
const maxExactInteger = 1 << 53

// PasteHandler serves the JSON API and the human paste page.
type PasteHandler struct {
	service *services.PasteService
	config  *config.Config
	logger  *slog.Logger
}

// NewPasteHandler creates a new paste handler
func NewPasteHandler(service *services.PasteService, config *config.Config, logger *slog.Logger) *PasteHandler {
	return &PasteHandler{
		service: service,
		config:  config,
		logger:  logger,
	}
}

// createPasteBody mirrors the JSON create request. Fields stay loosely
// typed so wrong types become validation errors instead of decode errors.
type createPasteBody struct {
	Content    interface{} `json:"content"`
	TTLSeconds interface{} `json:"ttl_seconds"`
	MaxViews   interface{} `json:"max_views"`
}

// pasteResponse is the JSON body of a successful read.
type pasteResponse struct {
	Content        string  `json:"content"`
	RemainingViews *int    `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// Create handles POST <api>/pastes
func (h *PasteHandler) Create(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxContentSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "content too large")
			return
		}
		respondError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req, err := parseCreateBody(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.CreatePaste(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":  resp.ID,
		"url": shareURL(c, h.config, resp.ID),
	})
}

// Get handles GET <api>/pastes/:id. Every successful read spends a view.
func (h *PasteHandler) Get(c *gin.Context) {
	paste, err := h.service.GetPaste(c.Request.Context(), c.Param("id"), h.requestNow(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, pasteResponse{
		Content:        paste.Content,
		RemainingViews: paste.RemainingViews,
		ExpiresAt:      isoTime(paste.ExpiresAt),
	})
}

// View handles GET /p/:id with the same consume semantics as Get.
func (h *PasteHandler) View(c *gin.Context) {
	id := c.Param("id")
	page := gin.H{
		"Title":   "npaste - Paste " + id,
		"Version": h.config.Version,
	}

	paste, err := h.service.GetPaste(c.Request.Context(), id, h.requestNow(c))
	switch {
	case errors.Is(err, services.ErrNotFound):
		page["Title"] = "npaste - Not Found"
		page["Error"] = "Paste not found, expired or out of views"
		c.HTML(http.StatusNotFound, "paste.html", page)
		return
	case err != nil:
		page["Title"] = "npaste - Error"
		page["Error"] = "Something went wrong loading this paste"
		c.HTML(http.StatusInternalServerError, "paste.html", page)
		return
	}

	page["ID"] = paste.ID
	page["Content"] = paste.Content
	page["Created"] = displayTime(paste.CreatedTime())
	page["ShareURL"] = shareURL(c, h.config, paste.ID)
	if paste.HasExpiration() {
		page["Expires"] = displayTime(paste.ExpiresTime())
	}
	if paste.HasViewLimit() {
		page["HasViewLimit"] = true
		page["RemainingViews"] = *paste.RemainingViews
	}
	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, "paste.html", page)
}

// QRCode handles GET /p/:id/qr.png. It never touches storage, so it does
// not spend a view.
func (h *PasteHandler) QRCode(c *gin.Context) {
	id := c.Param("id")
	if !utils.IsValidID(id) {
		respondError(c, http.StatusNotFound, "Not Found")
		return
	}

	png, err := qrcode.Encode(shareURL(c, h.config, id), qrcode.Medium, 256)
	if err != nil {
		h.logger.Error("failed to render qr code", "id", id, "error", err)
		respondError(c, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	c.Header("Content-Disposition", "inline; filename=qrcode.png")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *PasteHandler) respondServiceError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, verr.Error())
	case errors.Is(err, services.ErrNotFound):
		respondError(c, http.StatusNotFound, "Not Found")
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
	}
}

// requestNow is the wall clock, or the x-test-now-ms header in test mode.
// An unparsable header is ignored.
func (h *PasteHandler) requestNow(c *gin.Context) time.Time {
	if h.config.TestMode {
		if v := c.GetHeader(TestNowHeader); v != "" {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				return time.UnixMilli(ms)
			}
		}
	}
	return h.service.Now()
}

func parseCreateBody(raw []byte) (services.CreatePasteRequest, error) {
	var req services.CreatePasteRequest

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body createPasteBody
	if err := dec.Decode(&body); err != nil {
		return req, errors.New("Invalid JSON")
	}

	// Non-string content is treated like missing content.
	req.Content, _ = body.Content.(string)

	var err error
	if req.TTLSeconds, err = integerField("ttl_seconds", body.TTLSeconds); err != nil {
		return req, err
	}
	if req.MaxViews, err = integerField("max_views", body.MaxViews); err != nil {
		return req, err
	}
	return req, nil
}

// integerField accepts JSON integers, including integral floats such as
// 5.0, up to 2^53 in magnitude on either path. null means absent.
func integerField(name string, v interface{}) (*int, error) {
	if v == nil {
		return nil, nil
	}
	invalid := &services.ValidationError{Field: name, Message: "must be an integer >= 1"}

	n, ok := v.(json.Number)
	if !ok {
		return nil, invalid
	}
	if i, err := n.Int64(); err == nil {
		if i > maxExactInteger || i < -maxExactInteger {
			return nil, invalid
		}
		return models.Int(int(i)), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactInteger {
		return nil, invalid
	}
	return models.Int(int(f)), nil
}

// isoTime formats epoch milliseconds like JavaScript's toISOString.
func isoTime(ms *int64) *string {
	if ms == nil {
		return nil
	}
	s := time.UnixMilli(*ms).UTC().Format("2006-01-02T15:04:05.000Z")
	return &s
}

func displayTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
