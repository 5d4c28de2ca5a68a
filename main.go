package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/johnwmail/npaste/config"
	"github.com/johnwmail/npaste/internal/metrics"
	"github.com/johnwmail/npaste/internal/server"
	"github.com/johnwmail/npaste/internal/services"
	"github.com/johnwmail/npaste/storage"
)

// Version/build info (set via -ldflags at build time)
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "none"
)

// Lambda adapters, set up once before lambda.Start.
var (
	ginLambdaV1 *ginadapter.GinLambda
	ginLambdaV2 *ginadapter.GinLambdaV2
	appLogger   = slog.Default()
)

// isLambdaEnvironment detects if running in AWS Lambda
func isLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg.Version = Version
	cfg.BuildTime = BuildTime
	cfg.CommitHash = CommitHash

	logger, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	appLogger = logger

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting npaste",
		"version", Version,
		"build_time", BuildTime,
		"commit", CommitHash,
		"storage", cfg.StorageType,
		"test_mode", cfg.TestMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router, store, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	if isLambdaEnvironment() {
		logger.Info("Starting in AWS Lambda mode")
		ginLambdaV1 = ginadapter.New(router)
		ginLambdaV2 = ginadapter.NewV2(router)
		lambda.Start(lambdaHandler)
		return
	}

	if err := runHTTPServer(ctx, router, cfg, logger); err != nil {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

// newApp opens the configured store, starts the expiry sweeper where the
// backend needs one and builds the router.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gin.Engine, storage.PasteStore, error) {
	store, err := storage.NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize %s storage: %w", cfg.StorageType, err)
	}

	if storage.StartSweeper(ctx, store, cfg.SweepInterval, logger) {
		logger.Info("Expired paste sweeper started", "interval", cfg.SweepInterval)
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	service := services.NewPasteService(store, cfg, logger, m)
	return server.NewRouter(cfg, service, m, logger), store, nil
}

func runHTTPServer(ctx context.Context, router *gin.Engine, cfg *config.Config, logger *slog.Logger) error {
	httpServer := server.NewHTTPServer(cfg, router, logger)
	if err := httpServer.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// lambdaHandler handles Lambda requests for both v1 and v2 formats
func lambdaHandler(ctx context.Context, event interface{}) (interface{}, error) {
	if ginLambdaV1 == nil || ginLambdaV2 == nil {
		return nil, errors.New("lambda adapters are not initialized")
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		appLogger.Error("Failed to marshal event", "error", err)
		return textResponse(500, "Failed to process event"), err
	}

	// Lambda Function URLs and HTTP APIs
	var reqV2 events.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(eventBytes, &reqV2); err == nil && reqV2.RequestContext.HTTP.Method != "" {
		appLogger.Debug("Handling APIGatewayV2HTTPRequest", "method", reqV2.RequestContext.HTTP.Method, "path", reqV2.RawPath)
		return ginLambdaV2.ProxyWithContext(ctx, reqV2)
	}

	// REST APIs and ALB
	var reqV1 events.APIGatewayProxyRequest
	if err := json.Unmarshal(eventBytes, &reqV1); err == nil && reqV1.HTTPMethod != "" {
		appLogger.Debug("Handling APIGatewayProxyRequest", "method", reqV1.HTTPMethod, "path", reqV1.Path)
		return ginLambdaV1.ProxyWithContext(ctx, reqV1)
	}

	appLogger.Warn("Unable to parse event as APIGateway v1 or v2 format", "event", string(eventBytes))

	// The console's sample test event carries key1/key2/key3.
	var testEvent map[string]interface{}
	if err := json.Unmarshal(eventBytes, &testEvent); err == nil {
		if _, hasKey1 := testEvent["key1"]; hasKey1 {
			return events.APIGatewayV2HTTPResponse{
				StatusCode: 200,
				Body:       `{"message": "npaste Lambda function is working! Use a real HTTP request or API Gateway integration."}`,
				Headers:    map[string]string{"Content-Type": "application/json"},
			}, nil
		}
	}

	return textResponse(500, "Unsupported event type - this function expects API Gateway or Lambda Function URL events"),
		fmt.Errorf("unsupported event type: %T", event)
}

func textResponse(status int, body string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

// setupLogging builds the process logger: text on stderr, or JSON lines
// when a log file is configured.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return slog.New(slog.NewJSONHandler(file, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
