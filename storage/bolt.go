package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/johnwmail/npaste/models"
)

var (
	pasteBucket  = []byte("pastes")
	expireBucket = []byte("expires")
)

// BoltStore implements PasteStore on a single bbolt file. Expiry is kept in
// a second bucket ordered by timestamp so sweeps never scan every paste.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string, logger *slog.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(pasteBucket); err != nil {
			return fmt.Errorf("create paste bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(expireBucket); err != nil {
			return fmt.Errorf("create expire bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Using bolt storage", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

// Create saves a new paste and indexes its expiry.
func (b *BoltStore) Create(ctx context.Context, paste *models.Paste) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(paste)
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		pBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		if pBucket.Get([]byte(paste.ID)) != nil {
			return ErrIDExists
		}
		if err := pBucket.Put([]byte(paste.ID), data); err != nil {
			return fmt.Errorf("save paste: %w", err)
		}
		if paste.ExpiresAt != nil {
			if err := eBucket.Put(expireKey(*paste.ExpiresAt, paste.ID), []byte(paste.ID)); err != nil {
				return fmt.Errorf("index expiry: %w", err)
			}
		}
		return nil
	})
}

// FetchAndConsume reads a paste and applies view/expiry side effects in a
// single read-write transaction. bbolt runs one writer at a time, so no
// compare-and-swap is needed here.
func (b *BoltStore) FetchAndConsume(ctx context.Context, id string, nowMs int64) (*models.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *models.Paste
	err := b.db.Update(func(tx *bolt.Tx) error {
		pBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		p, err := decodePaste(pBucket.Get([]byte(id)))
		if err != nil {
			return err
		}

		action, next := p.Consume(nowMs)
		switch action {
		case models.ActionNotFound:
			// Returning an error would roll the lazy delete back.
			return deleteLocked(pBucket, eBucket, p)
		case models.ActionDecrement:
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal paste: %w", err)
			}
			if err := pBucket.Put([]byte(id), data); err != nil {
				return fmt.Errorf("save paste: %w", err)
			}
		case models.ActionBurn:
			if err := deleteLocked(pBucket, eBucket, p); err != nil {
				return err
			}
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// Delete removes a paste and its expiry index entry.
func (b *BoltStore) Delete(ctx context.Context, id string) error {
	return b.remove(ctx, id)
}

// DeleteExpired removes all pastes with expiry strictly before beforeMs.
func (b *BoltStore) DeleteExpired(ctx context.Context, beforeMs int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var removed int
	err := b.db.Update(func(tx *bolt.Tx) error {
		pBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}

		cursor := eBucket.Cursor()
		cutoff := toTimestamp(beforeMs)
		for key, val := cursor.First(); key != nil; key, val = cursor.Next() {
			if binary.BigEndian.Uint64(key[:8]) >= cutoff {
				break
			}
			id := string(val)
			if err := pBucket.Delete([]byte(id)); err != nil {
				return fmt.Errorf("delete expired paste %s: %w", id, err)
			}
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("delete expiry index: %w", err)
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Ping checks that the database is still open.
func (b *BoltStore) Ping(ctx context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error {
		_, _, err := buckets(tx)
		return err
	})
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltStore) remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		pBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		p, err := decodePaste(pBucket.Get([]byte(id)))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return deleteLocked(pBucket, eBucket, p)
	})
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	pBucket := tx.Bucket(pasteBucket)
	eBucket := tx.Bucket(expireBucket)
	if pBucket == nil || eBucket == nil {
		return nil, nil, errors.New("buckets not initialized")
	}
	return pBucket, eBucket, nil
}

func decodePaste(raw []byte) (*models.Paste, error) {
	if raw == nil {
		return nil, ErrNotFound
	}
	var p models.Paste
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal paste: %w", err)
	}
	return &p, nil
}

func deleteLocked(pBucket, eBucket *bolt.Bucket, p *models.Paste) error {
	if p.ExpiresAt != nil {
		if err := eBucket.Delete(expireKey(*p.ExpiresAt, p.ID)); err != nil {
			return fmt.Errorf("delete expiry index: %w", err)
		}
	}
	if err := pBucket.Delete([]byte(p.ID)); err != nil {
		return fmt.Errorf("delete paste: %w", err)
	}
	return nil
}

func expireKey(ms int64, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, toTimestamp(ms))
	copy(key[8:], id)
	return key
}

func toTimestamp(ms int64) uint64 {
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
