package storage_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwmail/npaste/models"
	"github.com/johnwmail/npaste/storage"
	"github.com/johnwmail/npaste/storage/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openBolt(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "npaste.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.PasteStore {
		return openBolt(t)
	})
}

func TestBoltStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := openBolt(t)

	require.NoError(t, store.Create(ctx, &models.Paste{ID: "old0001", Content: "a", ExpiresAt: models.Int64(1000)}))
	require.NoError(t, store.Create(ctx, &models.Paste{ID: "old0002", Content: "b", ExpiresAt: models.Int64(1500)}))
	require.NoError(t, store.Create(ctx, &models.Paste{ID: "new0001", Content: "c", ExpiresAt: models.Int64(5000)}))
	require.NoError(t, store.Create(ctx, &models.Paste{ID: "keep001", Content: "d"}))

	removed, err := store.DeleteExpired(ctx, 2000)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = store.FetchAndConsume(ctx, "old0001", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := store.FetchAndConsume(ctx, "new0001", 2000)
	require.NoError(t, err)
	assert.Equal(t, "c", got.Content)

	// A second sweep finds nothing left to do.
	removed, err = store.DeleteExpired(ctx, 2000)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "npaste.db")

	store, err := storage.NewBoltStore(path, discardLogger())
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, &models.Paste{ID: "durable", Content: "still here", RemainingViews: models.Int(2)}))
	_, err = store.FetchAndConsume(ctx, "durable", 0)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = storage.NewBoltStore(path, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.FetchAndConsume(ctx, "durable", 0)
	require.NoError(t, err)
	assert.Equal(t, "still here", got.Content)
	assert.Equal(t, 0, *got.RemainingViews)
}

func TestBoltStoreLazyExpiryIsCommitted(t *testing.T) {
	ctx := context.Background()
	store := openBolt(t)

	require.NoError(t, store.Create(ctx, &models.Paste{ID: "lazy001", Content: "a", ExpiresAt: models.Int64(1000), RemainingViews: models.Int(3)}))

	_, err := store.FetchAndConsume(ctx, "lazy001", 1001)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The read already removed the record and its expiry index entry.
	removed, err := store.DeleteExpired(ctx, 5000)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestBoltStoreManyReadersNeverFail(t *testing.T) {
	ctx := context.Background()
	store := openBolt(t)
	require.NoError(t, store.Create(ctx, &models.Paste{ID: "busy001", Content: "a", RemainingViews: models.Int(100_000)}))

	const readers, reads = 32, 20
	errs := make(chan error, readers*reads)
	done := make(chan struct{})
	for i := 0; i < readers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < reads; j++ {
				if _, err := store.FetchAndConsume(ctx, "busy001", 0); err != nil {
					errs <- err
				}
			}
		}()
	}
	for i := 0; i < readers; i++ {
		<-done
	}
	close(errs)

	for err := range errs {
		t.Errorf("read of a live paste failed: %v", err)
	}
	got, err := store.FetchAndConsume(ctx, "busy001", 0)
	require.NoError(t, err)
	assert.Equal(t, 100_000-readers*reads-1, *got.RemainingViews)
}
