// Package storetest holds the behavioural contract every storage.PasteStore
// implementation must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwmail/npaste/models"
	"github.com/johnwmail/npaste/storage"
)

// Factory returns a fresh, empty store. Cleanup should be registered on t.
type Factory func(t *testing.T) storage.PasteStore

const baseNow = int64(1_700_000_000_000)

// Run executes the full contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateThenFetch", func(t *testing.T) { testCreateThenFetch(t, newStore(t)) })
	t.Run("FetchMissing", func(t *testing.T) { testFetchMissing(t, newStore(t)) })
	t.Run("SingleView", func(t *testing.T) { testSingleView(t, newStore(t)) })
	t.Run("ThreeViews", func(t *testing.T) { testThreeViews(t, newStore(t)) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, newStore(t)) })
	t.Run("Unlimited", func(t *testing.T) { testUnlimited(t, newStore(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, newStore(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, newStore(t)) })
	t.Run("ConcurrentLastView", func(t *testing.T) { testConcurrentViews(t, newStore(t), 1, 16) })
	t.Run("ConcurrentViewBudget", func(t *testing.T) { testConcurrentViews(t, newStore(t), 5, 20) })
	t.Run("ConcurrentLargeBudget", func(t *testing.T) { testConcurrentLargeBudget(t, newStore(t)) })
}

func newPaste(id string, ttlSeconds, maxViews *int) *models.Paste {
	p := &models.Paste{ID: id, Content: "content of " + id, CreatedAt: baseNow}
	if ttlSeconds != nil {
		p.ExpiresAt = models.Int64(baseNow + int64(*ttlSeconds)*1000)
	}
	if maxViews != nil {
		p.RemainingViews = models.Int(*maxViews)
	}
	return p
}

func testCreateThenFetch(t *testing.T, store storage.PasteStore) {
	ctx := context.Background()
	p := newPaste("abc1234", nil, nil)
	p.Content = "hello\n  world  "
	require.NoError(t, store.Create(ctx, p))

	got, err := store.FetchAndConsume(ctx, p.ID, baseNow)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "hello\n  world  ", got.Content)
	assert.Equal(t, baseNow, got.CreatedAt)
	assert.Nil(t, got.ExpiresAt)
	assert.Nil(t, got.RemainingViews)
}

func testFetchMissing(t *testing.T, store storage.PasteStore) {
	_, err := store.FetchAndConsume(context.Background(), "nope000", baseNow)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testSingleView(t *testing.T, store storage.PasteStore) {
	ctx := context.Background()
	p := newPaste("once123", nil, models.Int(1))
	require.NoError(t, store.Create(ctx, p))

	got, err := store.FetchAndConsume(ctx, p.ID, baseNow)
	require.NoError(t, err)
	assert.Equal(t, p.Content, got.Content)
	require.NotNil(t, got.RemainingViews)
	assert.Equal(t, 0, *got.RemainingViews)

	_, err = store.FetchAndConsume(ctx, p.ID, baseNow)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testThreeViews(t *testing.T, store storage.PasteStore) {
	ctx := context.Background()
	p := newPaste("three12", models.Int(3600), models.Int(3))
	require.NoError(t, store.Create(ctx, p))

	for _, want := range []int{2, 1, 0} {
		got, err := store.FetchAndConsume(ctx, p.ID, baseNow+1000)
		require.NoError(t, err)
		require.NotNil(t, got.RemainingViews)
		assert.Equal(t, want, *got.RemainingViews)
		assert.Equal(t, p.Content, got.Content)
		require.NotNil(t, got.ExpiresAt)
		assert.Equal(t, *p.ExpiresAt, *got.ExpiresAt)
	}

	_, err := store.FetchAndConsume(ctx, p.ID, baseNow+1000)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTTL(t *testing.T, store storage.PasteStore) {
	ctx := context.Background()
	p := newPaste("ttl1234", models.Int(60), nil)
	require.NoError(t, store.Create(ctx, p))

	got, err := store.FetchAndConsume(ctx, p.ID, baseNow+59_000)
	require.NoError(t, err)
	assert.Equal(t, p.Content, got.Content)

	_, err = store.FetchAndConsume(ctx, p.ID, baseNow+61_000)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The lazy check deleted it; even an earlier clock no longer sees it.
	_, err = store.FetchAndConsume(ctx, p.ID, baseNow)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUnlimited(t *testing.T, store storage.PasteStore) {
	ctx := context.Background()
	p := newPaste("forever", nil, nil)
	require.NoError(t, store.Create(ctx, p))

	for i := 0; i < 25; i++ {
		got, err := store.FetchAndConsume(ctx, p.ID, baseNow+int64(i))
		require.NoError(t, err)
		assert.Nil(t, got.RemainingViews)
	}
}

func testDuplicateID(t *testing.T, store storage.PasteStore) {
	ctx := context.Background()
	first := newPaste("dupe123", nil, nil)
	first.Content = "first"
	second := newPaste("dupe123", nil, nil)
	second.Content = "second"

	require.NoError(t, store.Create(ctx, first))
	assert.ErrorIs(t, store.Create(ctx, second), storage.ErrIDExists)

	got, err := store.FetchAndConsume(ctx, first.ID, baseNow)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
}

func testDeleteIdempotent(t *testing.T, store storage.PasteStore) {
	ctx := context.Background()
	p := newPaste("delete1", nil, models.Int(2))
	require.NoError(t, store.Create(ctx, p))

	require.NoError(t, store.Delete(ctx, p.ID))
	require.NoError(t, store.Delete(ctx, p.ID))
	require.NoError(t, store.Delete(ctx, "neverexisted"))

	_, err := store.FetchAndConsume(ctx, p.ID, baseNow)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentViews(t *testing.T, store storage.PasteStore, views, readers int) {
	ctx := context.Background()
	p := newPaste(fmt.Sprintf("race%03d", views), nil, models.Int(views))
	require.NoError(t, store.Create(ctx, p))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		remaining []int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := store.FetchAndConsume(ctx, p.ID, baseNow)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				remaining = append(remaining, *got.RemainingViews)
			case errors.Is(err, storage.ErrNotFound):
			default:
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, failures)
	require.Len(t, remaining, views, "each view must be handed out exactly once")
	sort.Sort(sort.Reverse(sort.IntSlice(remaining)))
	for i, v := range remaining {
		assert.Equal(t, views-1-i, v)
	}

	_, err := store.FetchAndConsume(ctx, p.ID, baseNow)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// testConcurrentLargeBudget hammers a paste that cannot run out of views:
// losing a race must never turn into an error for a live paste.
func testConcurrentLargeBudget(t *testing.T, store storage.PasteStore) {
	const (
		views   = 100_000
		readers = 32
		reads   = 25
	)
	ctx := context.Background()
	p := newPaste("bigbudg", nil, models.Int(views))
	require.NoError(t, store.Create(ctx, p))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)
	start := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < reads; j++ {
				if _, err := store.FetchAndConsume(ctx, p.ID, baseNow); err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, failures)
	got, err := store.FetchAndConsume(ctx, p.ID, baseNow)
	require.NoError(t, err)
	assert.Equal(t, views-readers*reads-1, *got.RemainingViews)
}
