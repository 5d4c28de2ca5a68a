package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/johnwmail/npaste/config"
)

// NewStore creates a storage backend based on the configuration
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (PasteStore, error) {
	switch cfg.StorageType {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage; pastes are lost on restart")
		return NewMemoryStore(), nil

	case config.StorageBolt:
		return NewBoltStore(cfg.BoltPath, logger)

	case config.StorageRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)

	case config.StorageDynamoDB:
		return NewDynamoStore(ctx, cfg.DynamoDBTable, cfg.AWSRegion, cfg.DynamoDBEndpoint, logger)

	case config.StorageMongoDB:
		return NewMongoStore(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase, cfg.MongoDBCollection, logger)

	case config.StoragePostgres:
		return OpenPostgresStore(ctx, cfg.PostgresDSN, logger)

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}
