package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/johnwmail/npaste/models"
)

// MemoryStore keeps pastes in process memory. It is meant for local
// development and tests; nothing survives a restart.
type MemoryStore struct {
	mu     sync.Mutex
	pastes map[string]*models.Paste
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pastes: make(map[string]*models.Paste),
	}
}

var errClosed = errors.New("store is closed")

// Create saves a paste unless the id is taken.
func (m *MemoryStore) Create(ctx context.Context, paste *models.Paste) error {
	if paste == nil || paste.ID == "" {
		return errors.New("paste ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if _, exists := m.pastes[paste.ID]; exists {
		return ErrIDExists
	}
	m.pastes[paste.ID] = paste.Clone()
	return nil
}

// FetchAndConsume reads a paste and applies view/expiry side effects.
func (m *MemoryStore) FetchAndConsume(ctx context.Context, id string, nowMs int64) (*models.Paste, error) {
	return consume(ctx, m, id, nowMs)
}

// Delete removes a paste; absent ids are ignored.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	return m.remove(ctx, id)
}

// DeleteExpired drops every paste whose expiry is before beforeMs.
func (m *MemoryStore) DeleteExpired(ctx context.Context, beforeMs int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errClosed
	}
	removed := 0
	for id, p := range m.pastes {
		if p.IsExpiredAt(beforeMs) {
			delete(m.pastes, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records are physically stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pastes)
}

// Ping fails once the store is closed.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) load(ctx context.Context, id string) (*models.Paste, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	p, ok := m.pastes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	delete(m.pastes, id)
	return nil
}

func (m *MemoryStore) removeIf(ctx context.Context, id string, views int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.lockedMatch(id, views)
	if err != nil {
		return err
	}
	delete(m.pastes, p.ID)
	return nil
}

func (m *MemoryStore) decrementIf(ctx context.Context, id string, views int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.lockedMatch(id, views)
	if err != nil {
		return err
	}
	next := views - 1
	p.RemainingViews = &next
	return nil
}

// lockedMatch must be called with m.mu held.
func (m *MemoryStore) lockedMatch(id string, views int) (*models.Paste, error) {
	if m.closed {
		return nil, errClosed
	}
	p, ok := m.pastes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.RemainingViews == nil || *p.RemainingViews != views {
		return nil, errConflict
	}
	return p, nil
}
