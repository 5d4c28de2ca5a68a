package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johnwmail/npaste/models"
)

// RedisStore implements PasteStore on Redis. Each paste is one JSON string
// key whose Redis TTL mirrors the paste expiry, so Redis evicts expired
// pastes on its own. View updates use WATCH/MULTI for optimistic locking.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to Redis. redisURL may be a redis:// URL or a
// plain host:port.
func NewRedisStore(ctx context.Context, redisURL, prefix string, logger *slog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		// If URL parsing fails, try as simple host:port
		opt = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Using Redis storage", "addr", opt.Addr, "prefix", prefix)
	return NewRedisStoreWithClient(client, prefix, logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "paste"
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

func (r *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

// Create stores the paste with SET NX, attaching a TTL when it expires.
func (r *RedisStore) Create(ctx context.Context, paste *models.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(paste)
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}

	var ttl time.Duration
	if paste.ExpiresAt != nil {
		ttl = time.Duration(*paste.ExpiresAt-paste.CreatedAt) * time.Millisecond
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}

	ok, err := r.client.SetNX(ctx, r.key(paste.ID), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrIDExists
	}
	return nil
}

// FetchAndConsume reads a paste and applies view/expiry side effects.
func (r *RedisStore) FetchAndConsume(ctx context.Context, id string, nowMs int64) (*models.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return consume(ctx, r, id, nowMs)
}

// Delete removes a paste. DEL on a missing key is a no-op.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.remove(ctx, id)
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) load(ctx context.Context, id string) (*models.Paste, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p models.Paste
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal paste: %w", err)
	}
	return &p, nil
}

func (r *RedisStore) remove(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *RedisStore) removeIf(ctx context.Context, id string, views int) error {
	return r.swap(ctx, id, views, func(pipe redis.Pipeliner, key string, p *models.Paste) error {
		pipe.Del(ctx, key)
		return nil
	})
}

func (r *RedisStore) decrementIf(ctx context.Context, id string, views int) error {
	return r.swap(ctx, id, views, func(pipe redis.Pipeliner, key string, p *models.Paste) error {
		next := views - 1
		p.RemainingViews = &next
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal paste: %w", err)
		}
		// KEEPTTL so the passive expiry set on create still applies.
		pipe.Set(ctx, key, data, redis.KeepTTL)
		return nil
	})
}

// swap watches the key, checks the stored counter still equals views and
// then queues write inside MULTI/EXEC.
func (r *RedisStore) swap(ctx context.Context, id string, views int, write func(redis.Pipeliner, string, *models.Paste) error) error {
	key := r.key(id)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var p models.Paste
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal paste: %w", err)
		}
		if p.RemainingViews == nil || *p.RemainingViews != views {
			return errConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return write(pipe, key, &p)
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return errConflict
	}
	return err
}
