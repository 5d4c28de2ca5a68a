package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/npaste/config"
	"github.com/johnwmail/npaste/internal/services"
	"github.com/johnwmail/npaste/models"
	"github.com/johnwmail/npaste/static"
	"github.com/johnwmail/npaste/storage"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.URL = "https://paste.example.com"
	cfg.Version = "test"
	return cfg
}

// failingStore reports every operation as a backend failure.
type failingStore struct{}

func (failingStore) Create(context.Context, *models.Paste) error { return io.ErrUnexpectedEOF }
func (failingStore) FetchAndConsume(context.Context, string, int64) (*models.Paste, error) {
	return nil, io.ErrUnexpectedEOF
}
func (failingStore) Delete(context.Context, string) error { return io.ErrUnexpectedEOF }
func (failingStore) Ping(context.Context) error           { return io.ErrUnexpectedEOF }
func (failingStore) Close() error                         { return nil }

// setupRouter wires the handlers the way the server package does, minus
// the middleware.
func setupRouter(cfg *config.Config, store storage.PasteStore) (*gin.Engine, *services.PasteService) {
	gin.SetMode(gin.TestMode)

	svc := services.NewPasteService(store, cfg, testLogger(), nil)
	svc.Now = func() time.Time { return testNow }

	paste := NewPasteHandler(svc, cfg, testLogger())
	webui := NewWebUIHandler(svc, cfg, testLogger())
	system := NewSystemHandler(svc, testLogger())

	r := gin.New()
	r.SetHTMLTemplate(static.Templates())
	r.GET("/", webui.Index)
	r.POST("/", webui.Submit)
	r.GET("/p/:id", paste.View)
	r.GET("/p/:id/qr.png", paste.QRCode)
	api := r.Group(cfg.APIPrefix)
	api.POST("/pastes", paste.Create)
	api.GET("/pastes/:id", paste.Get)
	api.GET("/healthz", system.Health)
	return r, svc
}

func doRequest(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func mustCreate(t *testing.T, r http.Handler, body string) string {
	t.Helper()
	w := doRequest(r, "POST", "/api/pastes", body, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	decodeJSON(t, w, &resp)
	return resp.ID
}
