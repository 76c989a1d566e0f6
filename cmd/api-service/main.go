package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"github.com/cuongbtq/panel-one/internal/api/gateway"
	"github.com/cuongbtq/panel-one/internal/api/handler"
	"github.com/cuongbtq/panel-one/internal/api/notifier"
	"github.com/cuongbtq/panel-one/internal/api/router"
	"github.com/cuongbtq/panel-one/internal/config"
	"github.com/cuongbtq/panel-one/internal/ledger"
	"github.com/cuongbtq/panel-one/internal/queue"
	"github.com/cuongbtq/panel-one/internal/statusstore"
	"github.com/cuongbtq/panel-one/shared/blobstore"
	"github.com/cuongbtq/panel-one/shared/logger"
	"github.com/cuongbtq/panel-one/shared/postgresql"
	"github.com/cuongbtq/panel-one/shared/rabbitmq"
	"github.com/cuongbtq/panel-one/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	// Initialize Redis client backing the status store
	redisClient, err := initRedis(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	statusStore := statusstore.NewRedisStore(redisClient.GetClient(), cfg.Redis.KeyPrefix, cfg.Redis.StatusTTL, appLogger.Logger)

	// Initialize PostgreSQL client backing the job ledger
	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	jobLedger := ledger.NewPostgres(dbClient.GetDB(), appLogger.Logger)
	if err := jobLedger.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare job ledger: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	blobs, blobDir, closeBlobs, err := initBlobStore(ctx, &cfg.Blob, true, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	defer closeBlobs()

	gw := gateway.New(gateway.Dependencies{
		Status:    statusStore,
		Blobs:     blobs,
		Enqueuer:  queue.NewEnqueuer(rabbitClient, appLogger.Logger),
		Ledger:    jobLedger,
		MaxImages: cfg.Pipeline.MaxImages,
		Logger:    appLogger.Logger,
	})

	notify := notifier.New(statusStore, notifier.Config{
		Interval:        cfg.Stream.Interval,
		MaxReadFailures: cfg.Stream.MaxReadFailures,
		NotFoundGrace:   cfg.Stream.NotFoundGrace,
	}, appLogger.Logger)

	var limiter *router.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = router.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		defer limiter.Stop()
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, &handler.Dependencies{
		Logger:             appLogger.Logger,
		Gateway:            gw,
		Notifier:           notify,
		MaxUploadBytes:     cfg.Server.MaxUploadBytes,
		StreamWriteTimeout: cfg.Stream.WriteTimeout,
	}, router.Options{
		ServiceName:   cfg.App.Name,
		BlobDir:       blobDir,
		BlobServePath: cfg.Blob.ServePath,
		RateLimiter:   limiter,
		HealthChecks: map[string]router.HealthChecker{
			"redis":    redisClient,
			"postgres": dbClient,
			"rabbitmq": rabbitClient,
		},
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed to start",
			slog.Any("error", err),
		)
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initBlobStore opens the configured artifact store.
// The returned directory is non-empty only for the disk backend, which this process may serve.
func initBlobStore(ctx context.Context, cfg *config.BlobConfig, ensureBucket bool, logger *slog.Logger) (blobstore.Store, string, func(), error) {
	if cfg.Backend != config.BlobBackendGCS {
		disk, err := blobstore.NewDiskStore(cfg.Root, cfg.PublicBaseURL, logger)
		if err != nil {
			return nil, "", nil, err
		}
		return disk, disk.Root(), func() {}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	gcs, err := blobstore.NewGCSStore(ctx, blobstore.GCSConfig{
		Bucket:     cfg.Bucket,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		PublicRead: cfg.PublicRead,
	}, logger, opts...)
	if err != nil {
		return nil, "", nil, err
	}

	if ensureBucket {
		if err := gcs.EnsureBucket(ctx); err != nil {
			gcs.Close()
			return nil, "", nil, err
		}
	}

	logger.Info("Blob store uses Cloud Storage",
		slog.String("bucket", cfg.Bucket),
	)
	return gcs, "", func() { gcs.Close() }, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRedis initializes the Redis client
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		URL:          cfg.URL,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}, logger)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies, opts router.Options) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Debug("Router configured",
		slog.String("blob_serve_path", opts.BlobServePath),
		slog.Bool("rate_limit", opts.RateLimiter != nil),
	)

	return router.SetupRouter(deps, opts)
}
