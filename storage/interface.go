package storage

import (
	"context"
	"errors"
	"time"

	"github.com/johnwmail/npaste/models"
)

var (
	// ErrNotFound is returned when a paste is absent, expired or out of views.
	ErrNotFound = errors.New("paste not found")

	// ErrIDExists is returned by Create when the id is already taken.
	ErrIDExists = errors.New("paste id already exists")

	// errConflict signals a lost compare-and-swap inside the consume loop.
	errConflict = errors.New("paste changed since it was read")
)

// opTimeout bounds every single backend round trip.
const opTimeout = 10 * time.Second

// PasteStore defines the interface for paste storage backends
type PasteStore interface {
	// Create persists a new paste. It fails with ErrIDExists instead of
	// overwriting an existing record.
	Create(ctx context.Context, paste *models.Paste) error

	// FetchAndConsume reads a paste at nowMs and applies the view/expiry
	// side effects atomically for that record. Dead records yield ErrNotFound.
	FetchAndConsume(ctx context.Context, id string, nowMs int64) (*models.Paste, error)

	// Delete removes a paste. Deleting an absent paste is not an error.
	Delete(ctx context.Context, id string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Sweeper is implemented by stores without a native passive expiry.
type Sweeper interface {
	// DeleteExpired removes pastes whose expiry is before beforeMs and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, beforeMs int64) (int, error)
}

// recordOps are the per-record primitives an adapter exposes to consume.
// removeIf and decrementIf only succeed when the stored view counter still
// equals views; otherwise they return errConflict (or ErrNotFound when the
// record is gone).
type recordOps interface {
	load(ctx context.Context, id string) (*models.Paste, error)
	remove(ctx context.Context, id string) error
	removeIf(ctx context.Context, id string, views int) error
	decrementIf(ctx context.Context, id string, views int) error
}
