package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"github.com/cuongbtq/panel-one/internal/config"
	"github.com/cuongbtq/panel-one/internal/ledger"
	"github.com/cuongbtq/panel-one/internal/queue"
	"github.com/cuongbtq/panel-one/internal/statusstore"
	"github.com/cuongbtq/panel-one/internal/worker"
	"github.com/cuongbtq/panel-one/internal/worker/pipeline"
	"github.com/cuongbtq/panel-one/shared/blobstore"
	"github.com/cuongbtq/panel-one/shared/gemini"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := newWorkerID()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis client backing the status store
	redisClient, err := initRedis(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	statusStore := statusstore.NewRedisStore(redisClient.GetClient(), cfg.Redis.KeyPrefix, cfg.Redis.StatusTTL, appLogger.Logger)

	// Initialize PostgreSQL client backing the job ledger
	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		redisClient.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	jobLedger := ledger.NewPostgres(dbClient.GetDB(), appLogger.Logger)
	if err := jobLedger.EnsureSchema(ctx); err != nil {
		redisClient.Close()
		dbClient.Close()
		return fmt.Errorf("failed to prepare job ledger: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		redisClient.Close()
		dbClient.Close()
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Cleanup function to close all resources
	cleanup := func() {
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		if dbClient != nil {
			dbClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}
	defer cleanup()

	blobs, _, closeBlobs, err := initBlobStore(ctx, &cfg.Blob, false, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	defer closeBlobs()

	genClient, err := gemini.NewClient(ctx, &gemini.Config{
		APIKey:      cfg.GenAI.APIKey,
		StoryModel:  cfg.GenAI.StoryModel,
		ImageModel:  cfg.GenAI.ImageModel,
		CallTimeout: cfg.GenAI.CallTimeout,
		AspectRatio: cfg.GenAI.AspectRatio,
		ImageSize:   cfg.GenAI.ImageSize,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Gen AI client: %w", err)
	}

	prompts, err := pipeline.LoadPrompts(cfg.Pipeline.StoryPromptPath, cfg.Pipeline.ImagePromptPath)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	runner := pipeline.New(pipeline.Dependencies{
		Status:    statusStore,
		Mirror:    jobLedger,
		Blobs:     blobs,
		Generator: genClient,
		Prompts:   prompts,
		Logger:    appLogger.Logger,
	}, pipeline.Config{
		Timeout:         cfg.Pipeline.Timeout,
		DownloadTimeout: cfg.Pipeline.DownloadTimeout,
		ScratchDir:      cfg.Pipeline.ScratchDir,
		MaxImagePixels:  cfg.Pipeline.MaxImagePixels,
	})

	watchdog := worker.NewWatchdog(jobLedger, statusStore, blobs, worker.WatchdogConfig{
		StaleAfter: cfg.Worker.StaleAfter,
		Interval:   cfg.Worker.WatchdogInterval,
	}, appLogger.Logger)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Source:      queue.NewConsumer(rabbitClient, appLogger.Logger),
		Runner:      runner,
		Watchdog:    watchdog,
		WorkerID:    workerID,
		Concurrency: cfg.Worker.Concurrency,
	})

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop consuming; running jobs continue under their own budget
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit",
			slog.Duration("shutdown_timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// newWorkerID tags log lines and consumer tags with host and instance
func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
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
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
