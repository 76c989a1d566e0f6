package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Blob      BlobConfig      `yaml:"blob"`
	GenAI     GenAIConfig     `yaml:"genai"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// RedisConfig holds the status store connection configuration
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Password     string        `yaml:"password"`
	KeyPrefix    string        `yaml:"key_prefix"`
	StatusTTL    time.Duration `yaml:"status_ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the job ledger
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
}

// PipelineConfig holds the generation pipeline budgets and prompts
type PipelineConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	ScratchDir      string        `yaml:"scratch_dir"`
	StoryPromptPath string        `yaml:"story_prompt_path"`
	ImagePromptPath string        `yaml:"image_prompt_path"`
	MaxImages       int           `yaml:"max_images"`
	MaxImagePixels  int           `yaml:"max_image_pixels"`
}

// Blob backends
const (
	BlobBackendDisk = "disk"
	BlobBackendGCS  = "gcs"
)

// BlobConfig holds the artifact store configuration
type BlobConfig struct {
	Backend string `yaml:"backend"`

	// disk
	Root          string `yaml:"root"`
	PublicBaseURL string `yaml:"public_base_url"`
	ServePath     string `yaml:"serve_path"`

	// gcs
	Bucket          string `yaml:"bucket"`
	Location        string `yaml:"location"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	PublicRead      bool   `yaml:"public_read"`
}

// GenAIConfig holds the generative model configuration
type GenAIConfig struct {
	APIKey      string        `yaml:"api_key"`
	StoryModel  string        `yaml:"story_model"`
	ImageModel  string        `yaml:"image_model"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	AspectRatio string        `yaml:"aspect_ratio"`
	ImageSize   string        `yaml:"image_size"`
}

// StreamConfig holds the push notifier settings
type StreamConfig struct {
	Interval        time.Duration `yaml:"interval"`
	MaxReadFailures int           `yaml:"max_read_failures"`
	NotFoundGrace   time.Duration `yaml:"not_found_grace"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// RateLimitConfig holds per-client submission limits
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	return &config, nil
}

// applyEnv lets secrets come from the environment instead of the file
func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.GenAI.APIKey = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("GCS_BUCKET_NAME"); v != "" {
		c.Blob.Bucket = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.Blob.CredentialsFile == "" {
		c.Blob.CredentialsFile = v
	}
}

func (c *Config) applyDefaults() {
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "job:"
	}
	if c.Redis.StatusTTL == 0 {
		c.Redis.StatusTTL = 24 * time.Hour
	}
	if c.Pipeline.Timeout == 0 {
		c.Pipeline.Timeout = 590 * time.Second
	}
	if c.Pipeline.DownloadTimeout == 0 {
		c.Pipeline.DownloadTimeout = 60 * time.Second
	}
	if c.Pipeline.MaxImages == 0 {
		c.Pipeline.MaxImages = 8
	}
	if c.Pipeline.MaxImagePixels == 0 {
		c.Pipeline.MaxImagePixels = 40_000_000
	}
	if c.Stream.Interval == 0 {
		c.Stream.Interval = time.Second
	}
	if c.Stream.MaxReadFailures == 0 {
		c.Stream.MaxReadFailures = 5
	}
	if c.Stream.NotFoundGrace == 0 {
		c.Stream.NotFoundGrace = 10 * time.Second
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = 10 * time.Second
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 15 * time.Minute
	}
	if c.Worker.WatchdogInterval == 0 {
		c.Worker.WatchdogInterval = time.Minute
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Blob.Backend == "" {
		c.Blob.Backend = BlobBackendDisk
	}
	if c.Blob.ServePath == "" {
		c.Blob.ServePath = "/blobs"
	}
	if c.Blob.Location == "" {
		c.Blob.Location = "US"
	}
	if c.GenAI.StoryModel == "" {
		c.GenAI.StoryModel = "gemini-3-pro-preview"
	}
	if c.GenAI.ImageModel == "" {
		c.GenAI.ImageModel = "gemini-3-pro-image-preview"
	}
	if c.GenAI.AspectRatio == "" {
		c.GenAI.AspectRatio = "16:9"
	}
	if c.GenAI.ImageSize == "" {
		c.GenAI.ImageSize = "2K"
	}
}

// Validate checks the settings both services depend on
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}

	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("redis url must start with redis:// or rediss://")
	}

	if c.Redis.StatusTTL <= 0 {
		return fmt.Errorf("redis status_ttl must be greater than 0")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	switch c.Blob.Backend {
	case BlobBackendDisk:
		if c.Blob.Root == "" {
			return fmt.Errorf("blob root is required")
		}
		if c.Blob.PublicBaseURL == "" {
			return fmt.Errorf("blob public_base_url is required")
		}
	case BlobBackendGCS:
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob bucket is required for the gcs backend (or set GCS_BUCKET_NAME)")
		}
	default:
		return fmt.Errorf("invalid blob backend: %q (must be %s or %s)", c.Blob.Backend, BlobBackendDisk, BlobBackendGCS)
	}

	return nil
}

// ValidateAPIConfig checks the settings of the API service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Pipeline.MaxImages < 1 || c.Pipeline.MaxImages > 8 {
		return fmt.Errorf("pipeline max_images must be between 1 and 8")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit rps and burst must be greater than 0 when enabled")
	}

	return nil
}

// ValidateWorkerConfig checks the settings of the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.GenAI.APIKey == "" {
		return fmt.Errorf("genai api_key is required (or set GEMINI_API_KEY)")
	}

	if c.Pipeline.MaxImagePixels <= 0 {
		return fmt.Errorf("pipeline max_image_pixels must be greater than 0")
	}

	if c.Pipeline.DownloadTimeout >= c.Pipeline.Timeout {
		return fmt.Errorf("pipeline download_timeout must be shorter than pipeline timeout")
	}

	if c.Worker.StaleAfter <= c.Pipeline.Timeout {
		return fmt.Errorf("worker stale_after must be longer than pipeline timeout")
	}

	return nil
}
