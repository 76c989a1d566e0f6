package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GEMINI_API_KEY", "REDIS_URL", "DATABASE_PASSWORD", "RABBITMQ_PASSWORD", "GCS_BUCKET_NAME", "GOOGLE_APPLICATION_CREDENTIALS"} {
		t.Setenv(key, "")
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379",
			StatusTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "panel_one",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "panel_exchange"},
			Queue:    QueueConfig{Name: "panel_generate"},
		},
		Worker: WorkerConfig{
			Concurrency: 2,
			StaleAfter:  15 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Timeout:         590 * time.Second,
			DownloadTimeout: 60 * time.Second,
			MaxImages:       8,
			MaxImagePixels:  40_000_000,
		},
		Blob: BlobConfig{
			Backend:       BlobBackendDisk,
			Root:          "/tmp/blobs",
			PublicBaseURL: "http://localhost:8080/blobs",
		},
		GenAI: GenAIConfig{APIKey: "key"},
	}
}

func TestLoad(t *testing.T) {
	clearSecretEnv(t)

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
			assert.Equal(t, 24*time.Hour, cfg.Redis.StatusTTL)
			assert.Equal(t, "panel_one", cfg.Database.Database)
			assert.Equal(t, "panel_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "panel_generate", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, 590*time.Second, cfg.Pipeline.Timeout)
			assert.Equal(t, "panel-one-api", cfg.App.Name)
			assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearSecretEnv(t)

	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, "job:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Redis.StatusTTL)
	assert.Equal(t, 590*time.Second, cfg.Pipeline.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.DownloadTimeout)
	assert.Equal(t, 8, cfg.Pipeline.MaxImages)
	assert.Equal(t, time.Second, cfg.Stream.Interval)
	assert.Equal(t, 5, cfg.Stream.MaxReadFailures)
	assert.Equal(t, 15*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, "/blobs", cfg.Blob.ServePath)
	assert.Equal(t, BlobBackendDisk, cfg.Blob.Backend)
	assert.Equal(t, 40_000_000, cfg.Pipeline.MaxImagePixels)
	assert.Equal(t, "16:9", cfg.GenAI.AspectRatio)
	assert.Equal(t, "2K", cfg.GenAI.ImageSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("REDIS_URL", "rediss://cache.internal:6380")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.GenAI.APIKey)
	assert.Equal(t, "rediss://cache.internal:6380", cfg.Redis.URL)

	t.Setenv("GCS_BUCKET_NAME", "panel-one-artifacts")
	cfg, err = Load("testdata/valid_config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "panel-one-artifacts", cfg.Blob.Bucket)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "missing redis url",
			mutate:    func(c *Config) { c.Redis.URL = "" },
			errString: "redis url is required",
		},
		{
			name:      "redis url with wrong scheme",
			mutate:    func(c *Config) { c.Redis.URL = "http://localhost:6379" },
			errString: "redis url must start with",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "missing blob root",
			mutate:    func(c *Config) { c.Blob.Root = "" },
			errString: "blob root is required",
		},
		{
			name: "gcs backend with bucket",
			mutate: func(c *Config) {
				c.Blob = BlobConfig{Backend: BlobBackendGCS, Bucket: "panel-one-artifacts"}
			},
		},
		{
			name:      "gcs backend without bucket",
			mutate:    func(c *Config) { c.Blob = BlobConfig{Backend: BlobBackendGCS} },
			errString: "blob bucket is required",
		},
		{
			name:      "unknown blob backend",
			mutate:    func(c *Config) { c.Blob.Backend = "s3" },
			errString: "invalid blob backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "max images above limit",
			mutate:    func(c *Config) { c.Pipeline.MaxImages = 9 },
			errString: "max_images",
		},
		{
			name: "rate limit enabled without burst",
			mutate: func(c *Config) {
				c.RateLimit = RateLimitConfig{Enabled: true, RPS: 1}
			},
			errString: "rate_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "missing api key",
			mutate:    func(c *Config) { c.GenAI.APIKey = "" },
			errString: "genai api_key is required",
		},
		{
			name:      "download deadline not shorter than overall budget",
			mutate:    func(c *Config) { c.Pipeline.DownloadTimeout = c.Pipeline.Timeout },
			errString: "download_timeout must be shorter",
		},
		{
			name:      "non-positive pixel cap",
			mutate:    func(c *Config) { c.Pipeline.MaxImagePixels = 0 },
			errString: "max_image_pixels",
		},
		{
			name:      "watchdog deadline inside pipeline budget",
			mutate:    func(c *Config) { c.Worker.StaleAfter = time.Minute },
			errString: "stale_after must be longer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	clearSecretEnv(t)

	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
