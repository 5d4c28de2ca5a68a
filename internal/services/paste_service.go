package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"

	"github.com/johnwmail/npaste/config"
	"github.com/johnwmail/npaste/internal/metrics"
	"github.com/johnwmail/npaste/models"
	"github.com/johnwmail/npaste/storage"
	"github.com/johnwmail/npaste/utils"
)

var (
	// ErrNotFound covers absent, expired and exhausted pastes alike.
	ErrNotFound = errors.New("paste not found")

	// ErrBackendUnavailable wraps any storage failure.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)

const (
	maxCreateAttempts = 5
	collisionBackoff  = 10 * time.Millisecond
)

// ValidationError reports a rejected create request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// PasteService handles paste business logic
type PasteService struct {
	store    storage.PasteStore
	config   *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() (string, error)
}

// NewPasteService creates a new paste service. m may be nil.
func NewPasteService(store storage.PasteStore, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *PasteService {
	idLength := utils.DefaultIDLength
	if cfg != nil && cfg.IDLength > 0 {
		idLength = cfg.IDLength
	}

	if logger == nil {
		logger = slog.Default()
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	return &PasteService{
		store:    store,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		validate: validate,
		Now:      time.Now,
		NewID: func() (string, error) {
			return utils.GenerateID(idLength)
		},
	}
}

// CreatePasteRequest represents a request to create a paste
type CreatePasteRequest struct {
	Content    string `json:"content" validate:"required"`
	// ttl_seconds is capped at 100 years so the expiry stays representable.
	TTLSeconds *int   `json:"ttl_seconds" validate:"omitempty,gte=1,lte=3153600000"`
	// max_views fits a signed 32-bit counter, the narrowest column any backend uses.
	MaxViews   *int   `json:"max_views" validate:"omitempty,gte=1,lte=2147483647"`
}

// CreatePasteResponse represents the response from creating a paste
type CreatePasteResponse struct {
	ID             string
	ExpiresAt      *int64
	RemainingViews *int
}

func (s *PasteService) validateCreate(req CreatePasteRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return &ValidationError{Field: fe.Field(), Message: "is required and must be non-empty"}
		case "lte":
			return &ValidationError{Field: fe.Field(), Message: "must be at most " + fe.Param()}
		default:
			return &ValidationError{Field: fe.Field(), Message: "must be an integer >= 1"}
		}
	}
	if strings.TrimSpace(req.Content) == "" {
		return &ValidationError{Field: "content", Message: "is required and must be non-empty"}
	}
	return nil
}

// CreatePaste validates the request and stores a new paste under a fresh
// id. Taken ids are regenerated; nothing is ever overwritten.
func (s *PasteService) CreatePaste(ctx context.Context, req CreatePasteRequest) (*CreatePasteResponse, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	now := models.Millis(s.Now())
	paste := &models.Paste{
		Content:   req.Content,
		CreatedAt: now,
	}
	if req.TTLSeconds != nil {
		paste.ExpiresAt = models.Int64(now + int64(*req.TTLSeconds)*1000)
	}
	if req.MaxViews != nil {
		paste.RemainingViews = models.Int(*req.MaxViews)
	}

	backoff := retry.WithMaxRetries(maxCreateAttempts-1, retry.NewConstant(collisionBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := s.NewID()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		paste.ID = id

		err = s.store.Create(ctx, paste)
		if errors.Is(err, storage.ErrIDExists) {
			s.metrics.IDCollision()
			s.logger.Warn("paste id collision, retrying", "id", id)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		s.logger.Error("failed to create paste", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	s.metrics.PasteCreated()
	s.logger.Debug("paste created", "id", paste.ID, "expires_at", paste.ExpiresAt, "max_views", paste.RemainingViews)
	return &CreatePasteResponse{
		ID:             paste.ID,
		ExpiresAt:      paste.ExpiresAt,
		RemainingViews: paste.RemainingViews,
	}, nil
}

// GetPaste reads a paste as of now, spending one view when limited.
func (s *PasteService) GetPaste(ctx context.Context, id string, now time.Time) (*models.Paste, error) {
	if !utils.IsValidID(id) {
		s.metrics.PasteFetched(metrics.ResultNotFound)
		return nil, ErrNotFound
	}

	paste, err := s.store.FetchAndConsume(ctx, id, models.Millis(now))
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.PasteFetched(metrics.ResultNotFound)
		return nil, ErrNotFound
	}
	if err != nil {
		s.metrics.PasteFetched(metrics.ResultError)
		s.logger.Error("failed to fetch paste", "id", id, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	s.metrics.PasteFetched(metrics.ResultOK)
	if paste.RemainingViews != nil && *paste.RemainingViews == 0 {
		s.metrics.PasteBurned()
	}
	return paste, nil
}

// DeletePaste deletes a paste
func (s *PasteService) DeletePaste(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return nil
}

// Health pings the storage backend.
func (s *PasteService) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return nil
}
