package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Queue         QueueConfig
	Chain         ChainConfig
	Health        HealthConfig
	Metrics       MetricsConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// QueueConfig holds ingestion queue configuration
type QueueConfig struct {
	BufferSize   int           // Size of the job buffer
	WorkerCount  int           // Number of concurrent workers
	MaxAttempts  int           // Attempts per job before it is marked failed
	RetryBackoff time.Duration // Base delay before a job is redelivered
	JournalPath  string        // Append-only job journal; empty disables durable writes
}

// ChainConfig holds hash-chain configuration
type ChainConfig struct {
	HashAlgorithm       string        // Digest identifier stored on every entry
	VerifyRecomputeHash bool          // Re-derive current_hash from persisted fields during verification
	AppendMaxElapsed    time.Duration // Upper bound for append-conflict retries
}

// HealthConfig holds thresholds for the composite health check
type HealthConfig struct {
	QueueFailedThreshold  int64
	QueueBacklogThreshold int64
	ChainVerifyWindow     int
	DiskFreeFloorBytes    uint64
	DiskUsedPercentMax    float64
	CheckTimeout          time.Duration
}

// MetricsConfig holds metrics exporter configuration
type MetricsConfig struct {
	QueueRefreshInterval time.Duration
	ChainRefreshInterval time.Duration
}

// ArchiveConfig holds archive directory configuration
type ArchiveConfig struct {
	Path string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Queue: QueueConfig{
			BufferSize:   getEnvAsInt("QUEUE_BUFFER_SIZE", 10000),
			WorkerCount:  getEnvAsInt("QUEUE_WORKER_COUNT", 4),
			MaxAttempts:  getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			RetryBackoff: getEnvAsDuration("QUEUE_RETRY_BACKOFF", 2*time.Second),
			JournalPath:  getEnv("QUEUE_JOURNAL_PATH", ""),
		},
		Chain: ChainConfig{
			HashAlgorithm:       getEnv("CHAIN_HASH_ALGORITHM", "sha256"),
			VerifyRecomputeHash: getEnvAsBool("CHAIN_VERIFY_RECOMPUTE", false),
			AppendMaxElapsed:    getEnvAsDuration("CHAIN_APPEND_MAX_ELAPSED", 15*time.Second),
		},
		Health: HealthConfig{
			QueueFailedThreshold:  int64(getEnvAsInt("HEALTH_QUEUE_FAILED_THRESHOLD", 100)),
			QueueBacklogThreshold: int64(getEnvAsInt("HEALTH_QUEUE_BACKLOG_THRESHOLD", 10000)),
			ChainVerifyWindow:     getEnvAsInt("HEALTH_CHAIN_VERIFY_WINDOW", 100),
			DiskFreeFloorBytes:    uint64(getEnvAsInt("HEALTH_DISK_FREE_FLOOR_BYTES", 1<<30)),
			DiskUsedPercentMax:    getEnvAsFloat("HEALTH_DISK_USED_PERCENT_MAX", 90),
			CheckTimeout:          getEnvAsDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
		Metrics: MetricsConfig{
			QueueRefreshInterval: getEnvAsDuration("METRICS_QUEUE_REFRESH_INTERVAL", 5*time.Second),
			ChainRefreshInterval: getEnvAsDuration("METRICS_CHAIN_REFRESH_INTERVAL", 60*time.Second),
		},
		Archive: ArchiveConfig{
			Path: getEnv("ARCHIVE_PATH", "./archive"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Queue.BufferSize <= 0 {
		return fmt.Errorf("queue buffer size must be positive")
	}
	if c.Queue.WorkerCount <= 0 {
		return fmt.Errorf("queue worker count must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max attempts must be positive")
	}

	if c.Chain.HashAlgorithm != "sha256" {
		return fmt.Errorf("unsupported hash algorithm: %s", c.Chain.HashAlgorithm)
	}

	if c.Health.ChainVerifyWindow <= 0 {
		return fmt.Errorf("chain verify window must be positive")
	}
	if c.Health.DiskUsedPercentMax <= 0 || c.Health.DiskUsedPercentMax > 100 {
		return fmt.Errorf("disk used percent ceiling must be in (0, 100]")
	}

	if c.Archive.Path == "" {
		return fmt.Errorf("archive path is required")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "audit_password"),
		Database:        getEnv("DB_NAME", "audit"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
