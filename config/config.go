package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends understood by storage.NewStore.
const (
	StorageMemory   = "memory"
	StorageBolt     = "bolt"
	StorageRedis    = "redis"
	StorageDynamoDB = "dynamodb"
	StorageMongoDB  = "mongodb"
	StoragePostgres = "postgres"
)

var validStorageTypes = []string{StorageMemory, StorageBolt, StorageRedis, StorageDynamoDB, StorageMongoDB, StoragePostgres}

// Config holds all configuration for the npaste service
type Config struct {
	Port           int           `json:"port"`
	URL            string        `json:"url"`
	APIPrefix      string        `json:"api_prefix"`
	IDLength       int           `json:"id_length"`
	MaxContentSize int64         `json:"max_content_size"`
	TestMode       bool          `json:"test_mode"`
	SweepInterval  time.Duration `json:"sweep_interval"`

	// Storage configuration
	StorageType       string `json:"storage_type"`
	BoltPath          string `json:"bolt_path"`
	RedisURL          string `json:"redis_url"`
	RedisPrefix       string `json:"redis_prefix"`
	DynamoDBTable     string `json:"dynamodb_table"`
	DynamoDBEndpoint  string `json:"dynamodb_endpoint"`
	AWSRegion         string `json:"aws_region"`
	MongoDBURI        string `json:"-"`
	MongoDBDatabase   string `json:"mongodb_database"`
	MongoDBCollection string `json:"mongodb_collection"`
	PostgresDSN       string `json:"-"`

	// Operational configuration
	LogLevel      string `json:"log_level"`
	LogFile       string `json:"log_file"`
	EnableMetrics bool   `json:"enable_metrics"`

	Version    string `json:"version"`
	BuildTime  string `json:"build_time"`
	CommitHash string `json:"commit_hash"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:              8080,
		URL:               "",
		APIPrefix:         "/api",
		IDLength:          7,
		MaxContentSize:    1024 * 1024, // 1MB
		SweepInterval:     time.Minute,
		StorageType:       StorageMemory,
		BoltPath:          "./npaste.db",
		RedisURL:          "redis://localhost:6379/0",
		RedisPrefix:       "paste",
		DynamoDBTable:     "npaste-pastes",
		MongoDBURI:        "mongodb://localhost:27017",
		MongoDBDatabase:   "npaste",
		MongoDBCollection: "pastes",
		PostgresDSN:       "postgres://localhost:5432/npaste?sslmode=disable",
		LogLevel:          "info",
		EnableMetrics:     true,
	}
}

// LoadConfig loads configuration from an optional .env file, environment
// variables and CLI flags. Flags win over environment variables.
func LoadConfig(args []string) (*Config, error) {
	// A missing .env file is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	fs := flag.NewFlagSet("npaste", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", getEnvInt("NPASTE_PORT", cfg.Port), "Port to listen on")
	fs.StringVar(&cfg.URL, "url", getEnvString("NPASTE_URL", cfg.URL), "Base URL for paste links")
	fs.StringVar(&cfg.APIPrefix, "api-prefix", getEnvString("NPASTE_API_PREFIX", cfg.APIPrefix), "Path prefix for the JSON API")
	fs.IntVar(&cfg.IDLength, "id-length", getEnvInt("NPASTE_ID_LENGTH", cfg.IDLength), "Length of generated paste IDs")
	fs.Int64Var(&cfg.MaxContentSize, "max-content-size", getEnvInt64("NPASTE_MAX_CONTENT_SIZE", cfg.MaxContentSize), "Maximum request body size in bytes")
	fs.BoolVar(&cfg.TestMode, "test-mode", getEnvBool("NPASTE_TEST_MODE", getEnvString("TEST_MODE", "") == "1"), "Honour the x-test-now-ms header")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", getEnvDuration("NPASTE_SWEEP_INTERVAL", cfg.SweepInterval), "Expired paste sweep interval for stores without native TTL (0 disables)")

	fs.StringVar(&cfg.StorageType, "storage-type", getEnvString("NPASTE_STORAGE_TYPE", cfg.StorageType), "Storage backend: "+strings.Join(validStorageTypes, ", "))
	fs.StringVar(&cfg.BoltPath, "bolt-path", getEnvString("NPASTE_BOLT_PATH", cfg.BoltPath), "Database file (bolt only)")
	fs.StringVar(&cfg.RedisURL, "redis-url", getEnvString("NPASTE_REDIS_URL", cfg.RedisURL), "Redis URL")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", getEnvString("NPASTE_REDIS_PREFIX", cfg.RedisPrefix), "Redis key prefix")
	fs.StringVar(&cfg.DynamoDBTable, "dynamodb-table", getEnvString("NPASTE_DYNAMODB_TABLE", cfg.DynamoDBTable), "DynamoDB table name")
	fs.StringVar(&cfg.DynamoDBEndpoint, "dynamodb-endpoint", getEnvString("NPASTE_DYNAMODB_ENDPOINT", cfg.DynamoDBEndpoint), "Custom DynamoDB endpoint (DynamoDB Local)")
	fs.StringVar(&cfg.AWSRegion, "aws-region", getEnvString("AWS_REGION", cfg.AWSRegion), "AWS region")
	fs.StringVar(&cfg.MongoDBURI, "mongodb-uri", getEnvString("NPASTE_MONGODB_URI", cfg.MongoDBURI), "MongoDB connection URI")
	fs.StringVar(&cfg.MongoDBDatabase, "mongodb-database", getEnvString("NPASTE_MONGODB_DATABASE", cfg.MongoDBDatabase), "MongoDB database name")
	fs.StringVar(&cfg.MongoDBCollection, "mongodb-collection", getEnvString("NPASTE_MONGODB_COLLECTION", cfg.MongoDBCollection), "MongoDB collection name")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", getEnvString("NPASTE_POSTGRES_DSN", cfg.PostgresDSN), "PostgreSQL connection string")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnvString("NPASTE_LOG_LEVEL", cfg.LogLevel), "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "log-file", getEnvString("NPASTE_LOG_FILE", cfg.LogFile), "Path to log file (JSON lines)")
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", getEnvBool("NPASTE_ENABLE_METRICS", cfg.EnableMetrics), "Expose Prometheus metrics on /metrics")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.URL = strings.TrimRight(cfg.URL, "/")
	cfg.APIPrefix = "/" + strings.Trim(cfg.APIPrefix, "/")

	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.IDLength < 4 || c.IDLength > 32 {
		return fmt.Errorf("id length must be between 4 and 32: %d", c.IDLength)
	}

	if c.MaxContentSize < 1024 {
		return fmt.Errorf("max content size must be at least 1KB: %d", c.MaxContentSize)
	}

	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep interval cannot be negative: %s", c.SweepInterval)
	}

	validType := false
	for _, st := range validStorageTypes {
		if c.StorageType == st {
			validType = true
			break
		}
	}
	if !validType {
		return fmt.Errorf("invalid storage type: %s (valid: %s)", c.StorageType, strings.Join(validStorageTypes, ", "))
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
