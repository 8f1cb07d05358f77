// Package config provides configuration management for entityindex.
// It loads settings from environment variables with the ENTITYINDEX_ prefix,
// optionally overlaid by a YAML file, and provides sensible defaults for all
// configuration options.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sync      SyncConfig      `yaml:"sync"`
	Source    SourceConfig    `yaml:"source"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 6464)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string  `yaml:"mode"`      // development, production (default: development)
	APIToken     string  `yaml:"api_token"` // Bearer token required in production mode
	RateLimit    float64 `yaml:"rate_limit"`
	RateBurst    int     `yaml:"rate_burst"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"engine"`       // sqlite, postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`    // Directory holding the sqlite file (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"` // Required when engine is postgres
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // openai, ollama, hash (default: ollama)
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Dimension         int           `yaml:"dimension"`  // 0 = accept whatever the provider returns first
	BatchSize         int           `yaml:"batch_size"` // texts per provider call (default: 64)
	Timeout           time.Duration `yaml:"timeout"`    // per provider call (default: 30s)
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// SyncConfig contains synchronization manager settings.
type SyncConfig struct {
	Interval        time.Duration `yaml:"interval"`         // 0 disables the timer (default: 5m)
	ProviderTimeout time.Duration `yaml:"provider_timeout"` // bound on one tick's provider work (default: 60s)
	MediumEvery     int           `yaml:"medium_every"`     // keyword repairs every N ticks (default: 3)
	Verbose         bool          `yaml:"verbose"`          // log no-op ticks and diagnostics
}

// SourceConfig points at the entity snapshot consumed by the file source.
type SourceConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
	Watch        bool   `yaml:"watch"`
}

// LoadConfig loads configuration from defaults, the YAML file found by
// ResolvePath (if any) and environment variables.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ResolvePath())
}

// ResolvePath finds the YAML config file, trying in order:
//  1. ENTITYINDEX_CONFIG (must exist)
//  2. config/entityindex.yaml next to the executable
//  3. config/entityindex.yaml in the working directory
//
// It returns "" when nothing is found.
func ResolvePath() string {
	if path := os.Getenv("ENTITYINDEX_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("config: ENTITYINDEX_CONFIG=%s does not exist, continuing search", path)
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), "config", "entityindex.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if _, err := os.Stat(filepath.Join("config", "entityindex.yaml")); err == nil {
		return filepath.Join("config", "entityindex.yaml")
	}
	return ""
}

// LoadConfigFile is LoadConfig with an explicit YAML path. An empty path
// skips the file layer.
func LoadConfigFile(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port out of range: %d", c.Server.Port))
	}
	switch c.Security.SecurityMode {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("unknown security mode %q", c.Security.SecurityMode))
	}
	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		errs = append(errs, errors.New("production mode requires an API token"))
	}
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres engine requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q", c.Storage.StorageEngine))
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		errs = append(errs, errors.New("openai provider requires an API key"))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must not be negative: %d", c.Embedding.Dimension))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding batch size must be positive: %d", c.Embedding.BatchSize))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, fmt.Errorf("sync interval must not be negative: %v", c.Sync.Interval))
	}
	if c.Sync.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync provider timeout must be positive: %v", c.Sync.ProviderTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SQLitePath returns the database file used by the sqlite engine.
func (c *Config) SQLitePath() string {
	return strings.TrimRight(c.Storage.DataPath, "/") + "/entityindex.db"
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 6464,
			Host: "127.0.0.1",
		},
		Security: SecurityConfig{
			SecurityMode: "development",
			RateLimit:    10,
			RateBurst:    20,
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			BatchSize: 64,
			Timeout:   30 * time.Second,
		},
		Sync: SyncConfig{
			Interval:        5 * time.Minute,
			ProviderTimeout: 60 * time.Second,
			MediumEvery:     3,
		},
	}
}

// applyEnv overlays environment variables on cfg. Unset variables keep the
// current value.
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("ENTITYINDEX_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("ENTITYINDEX_HOST", cfg.Server.Host)

	cfg.Security.SecurityMode = getEnv("ENTITYINDEX_SECURITY_MODE", cfg.Security.SecurityMode)
	cfg.Security.APIToken = getEnv("ENTITYINDEX_API_TOKEN", cfg.Security.APIToken)
	cfg.Security.RateLimit = getEnvFloat("ENTITYINDEX_RATE_LIMIT", cfg.Security.RateLimit)
	cfg.Security.RateBurst = getEnvInt("ENTITYINDEX_RATE_BURST", cfg.Security.RateBurst)

	cfg.Storage.StorageEngine = getEnv("ENTITYINDEX_STORAGE_ENGINE", cfg.Storage.StorageEngine)
	cfg.Storage.DataPath = getEnv("ENTITYINDEX_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("ENTITYINDEX_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Embedding.Provider = getEnv("ENTITYINDEX_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.Model = getEnv("ENTITYINDEX_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.BaseURL = getEnv("ENTITYINDEX_EMBEDDING_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = getEnv("ENTITYINDEX_OPENAI_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Dimension = getEnvInt("ENTITYINDEX_EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.BatchSize = getEnvInt("ENTITYINDEX_EMBEDDING_BATCH_SIZE", cfg.Embedding.BatchSize)
	cfg.Embedding.Timeout = getEnvDuration("ENTITYINDEX_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.RequestsPerSecond = getEnvFloat("ENTITYINDEX_EMBEDDING_RPS", cfg.Embedding.RequestsPerSecond)

	cfg.Sync.Interval = getEnvDuration("ENTITYINDEX_SYNC_INTERVAL", cfg.Sync.Interval)
	cfg.Sync.ProviderTimeout = getEnvDuration("ENTITYINDEX_SYNC_PROVIDER_TIMEOUT", cfg.Sync.ProviderTimeout)
	cfg.Sync.MediumEvery = getEnvInt("ENTITYINDEX_SYNC_MEDIUM_EVERY", cfg.Sync.MediumEvery)
	cfg.Sync.Verbose = getEnvBool("ENTITYINDEX_VERBOSE", cfg.Sync.Verbose)

	cfg.Source.SnapshotPath = getEnv("ENTITYINDEX_SNAPSHOT_PATH", cfg.Source.SnapshotPath)
	cfg.Source.Watch = getEnvBool("ENTITYINDEX_SNAPSHOT_WATCH", cfg.Source.Watch)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration syntax ("90s", "5m") or a bare number of
// seconds ("300"), which is how the interval was historically configured.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
