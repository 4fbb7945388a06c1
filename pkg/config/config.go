package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/registrar/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Results artifact store configuration
	Results ResultsConfig

	// Cache configuration for program details
	Cache CacheConfig

	// Provider (LMS) client configuration
	Provider ProviderConfig

	// Executor configuration for the job pipeline
	Executor ExecutorConfig

	// Auth configuration
	Auth AuthConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ResultsConfig holds the job result artifact store settings
type ResultsConfig struct {
	// Backend is "filesystem" or "s3"
	Backend string

	// Filesystem backend
	FilesystemRoot string

	// S3 backend
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// PresignTTL bounds how long a result download URL stays valid
	PresignTTL time.Duration
}

// CacheConfig holds the program details cache settings
type CacheConfig struct {
	Enabled       bool
	RedisURL      string
	RedisPassword string
	RedisDB       int
	L1Size        int
	TTL           time.Duration
}

// ProviderConfig holds settings for the upstream enrollment provider
type ProviderConfig struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	WriteBatchSize int
	PageSize       int
}

// ExecutorConfig holds settings for the asynchronous job executor
type ExecutorConfig struct {
	Workers      int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// AuthConfig holds identity verification settings
type AuthConfig struct {
	// Mode is "oidc" for bearer token verification or "header" for
	// trusted gateway headers.
	Mode string

	OIDCIssuer   string
	OIDCAudience string

	// RolesFile optionally overrides the built-in role definitions
	RolesFile string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Results:       loadResultsConfig(),
		Cache:         loadCacheConfig(),
		Provider:      loadProviderConfig(),
		Executor:      loadExecutorConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("REGISTRAR_HOST", "0.0.0.0"),
		Port:            getEnv("REGISTRAR_PORT", "8080"),
		ReadTimeout:     getEnvDuration("REGISTRAR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("REGISTRAR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("REGISTRAR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("REGISTRAR_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("REGISTRAR_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("REGISTRAR_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("REGISTRAR_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("REGISTRAR_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("REGISTRAR_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

// loadResultsConfig loads result store configuration from environment
func loadResultsConfig() ResultsConfig {
	return ResultsConfig{
		Backend:        getEnv("REGISTRAR_RESULTS_BACKEND", "filesystem"),
		FilesystemRoot: getEnv("REGISTRAR_RESULTS_ROOT", "/var/lib/registrar/results"),
		S3Endpoint:     getEnv("REGISTRAR_S3_ENDPOINT", ""),
		S3Region:       getEnv("REGISTRAR_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("REGISTRAR_S3_BUCKET", ""),
		S3AccessKey:    getEnv("REGISTRAR_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("REGISTRAR_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("REGISTRAR_S3_USE_PATH_STYLE", false),
		PresignTTL:     getEnvDuration("REGISTRAR_RESULTS_PRESIGN_TTL", 1*time.Hour),
	}
}

// loadCacheConfig loads program details cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       getEnvBool("REGISTRAR_CACHE_ENABLED", true),
		RedisURL:      getEnv("REGISTRAR_REDIS_URL", ""),
		RedisPassword: getEnv("REGISTRAR_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REGISTRAR_REDIS_DB", 0),
		L1Size:        getEnvInt("REGISTRAR_L1_CACHE_SIZE", 1024),
		TTL:           getEnvDuration("REGISTRAR_CACHE_TTL", 5*time.Minute),
	}
}

// loadProviderConfig loads enrollment provider configuration from environment
func loadProviderConfig() ProviderConfig {
	return ProviderConfig{
		BaseURL:        getEnv("REGISTRAR_PROVIDER_URL", ""),
		Token:          getEnv("REGISTRAR_PROVIDER_TOKEN", ""),
		Timeout:        getEnvDuration("REGISTRAR_PROVIDER_TIMEOUT", 30*time.Second),
		WriteBatchSize: getEnvInt("REGISTRAR_PROVIDER_WRITE_BATCH_SIZE", 25),
		PageSize:       getEnvInt("REGISTRAR_PROVIDER_PAGE_SIZE", 100),
	}
}

// loadExecutorConfig loads executor configuration from environment
func loadExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Workers:      getEnvInt("REGISTRAR_EXECUTOR_WORKERS", 4),
		PollInterval: getEnvDuration("REGISTRAR_EXECUTOR_POLL_INTERVAL", 2*time.Second),
		JobTimeout:   getEnvDuration("REGISTRAR_EXECUTOR_JOB_TIMEOUT", 10*time.Minute),
	}
}

// loadAuthConfig loads auth configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:         getEnv("REGISTRAR_AUTH_MODE", "header"),
		OIDCIssuer:   getEnv("REGISTRAR_OIDC_ISSUER", ""),
		OIDCAudience: getEnv("REGISTRAR_OIDC_AUDIENCE", "registrar"),
		RolesFile:    getEnv("REGISTRAR_ROLES_FILE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("REGISTRAR_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("REGISTRAR_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("REGISTRAR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("REGISTRAR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("REGISTRAR_OTEL_SERVICE_NAME", "registrar-api"),
		OTelServiceVersion: getEnv("REGISTRAR_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("REGISTRAR_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Results.Backend {
	case "filesystem":
		if c.Results.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem results backend")
		}
	case "s3":
		if c.Results.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 results backend")
		}
	default:
		return fmt.Errorf("invalid results backend: %s (must be filesystem or s3)", c.Results.Backend)
	}

	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required when cache is enabled")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider URL is required")
	}
	if c.Provider.WriteBatchSize <= 0 {
		return fmt.Errorf("provider write batch size must be positive")
	}

	if c.Executor.Workers <= 0 {
		return fmt.Errorf("executor worker count must be positive")
	}
	if c.Executor.JobTimeout <= 0 {
		return fmt.Errorf("executor job timeout must be positive")
	}

	switch c.Auth.Mode {
	case "header":
	case "oidc":
		if c.Auth.OIDCIssuer == "" {
			return fmt.Errorf("OIDC issuer is required when auth mode is oidc")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be header or oidc)", c.Auth.Mode)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
