package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxBatchSize is the largest number of records the record service accepts per call
const MaxBatchSize = 200

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Save     SaveConfig
	Cache    CacheConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// SaveConfig controls how the engine submits changes
type SaveConfig struct {
	BatchSize            int  // Records per save call, clamped to 1..200
	MaxConcurrentBatches int  // Save calls in flight per kind (0 = all at once)
	TouchParents         bool // Touch profiles and permission sets after a save
}

// CacheConfig represents catalog cache configuration
type CacheConfig struct {
	Enabled            bool
	MaxMemoryBytes     int64 // Maximum memory usage in bytes (e.g., 16777216 = 16MB)
	TTLMinutes         int   // Time-to-live for cache entries in minutes
	RefreshTTLMinutes  int   // Full invalidation interval when LISTEN/NOTIFY is used (0 = never)
	ListenNotification bool  // Subscribe to catalog_changed notifications
}

// MetricsConfig represents the Prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool
	Addr    string // Listen address of the /metrics endpoint (e.g., ":9090")
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json or auto (text on a terminal, JSON otherwise)
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	// The project root is optional: the CLI also runs outside the source tree
	if projectRoot, err := findProjectRoot(); err == nil {
		viper.AddConfigPath(projectRoot)
	}
	viper.AddConfigPath(".")

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "permatrix")
	viper.SetDefault("DB_NAME", "permatrix_dev")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("SAVE_BATCH_SIZE", MaxBatchSize)
	viper.SetDefault("SAVE_MAX_CONCURRENT_BATCHES", 0)
	viper.SetDefault("SAVE_TOUCH_PARENTS", true)

	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 16*1024*1024) // 16MB
	viper.SetDefault("CACHE_TTL_MINUTES", 30)
	viper.SetDefault("CACHE_REFRESH_TTL_MINUTES", 10)
	viper.SetDefault("CACHE_LISTEN", true)

	viper.SetDefault("METRICS_ENABLED", false)
	viper.SetDefault("METRICS_ADDR", ":9090")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "auto")

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	// DB_PASSWORD is required for security
	dbPassword := viper.GetString("DB_PASSWORD")
	if dbPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
	}
	return load()
}

// LoadWithoutDatabase loads configuration for backends that never connect to
// PostgreSQL (e.g., fixtures). DB_PASSWORD is not required.
func LoadWithoutDatabase() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	config := &Config{
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Save: SaveConfig{
			BatchSize:            clampBatchSize(viper.GetInt("SAVE_BATCH_SIZE")),
			MaxConcurrentBatches: viper.GetInt("SAVE_MAX_CONCURRENT_BATCHES"),
			TouchParents:         viper.GetBool("SAVE_TOUCH_PARENTS"),
		},
		Cache: CacheConfig{
			Enabled:            viper.GetBool("CACHE_ENABLED"),
			MaxMemoryBytes:     viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			TTLMinutes:         viper.GetInt("CACHE_TTL_MINUTES"),
			RefreshTTLMinutes:  viper.GetInt("CACHE_REFRESH_TTL_MINUTES"),
			ListenNotification: viper.GetBool("CACHE_LISTEN"),
		},
		Metrics: MetricsConfig{
			Enabled: viper.GetBool("METRICS_ENABLED"),
			Addr:    viper.GetString("METRICS_ADDR"),
		},
		Log: LogConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if err := c.Save.Validate(); err != nil {
		return fmt.Errorf("invalid save config: %w", err)
	}
	if c.Cache.Enabled {
		if c.Cache.MaxMemoryBytes <= 0 {
			return fmt.Errorf("CACHE_MAX_MEMORY_BYTES must be positive when the cache is enabled")
		}
		if c.Cache.TTLMinutes <= 0 {
			return fmt.Errorf("CACHE_TTL_MINUTES must be positive when the cache is enabled")
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Validate checks the save settings
func (c *SaveConfig) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d, got %d", MaxBatchSize, c.BatchSize)
	}
	if c.MaxConcurrentBatches < 0 {
		return fmt.Errorf("max concurrent batches must not be negative, got %d", c.MaxConcurrentBatches)
	}
	return nil
}

// TTL returns the cache entry time-to-live
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// RefreshTTL returns the full invalidation interval
func (c *CacheConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLMinutes) * time.Minute
}

// SlogLevel parses the configured level
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", c.Level)
	}
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

func clampBatchSize(size int) int {
	if size < 1 {
		return 1
	}
	if size > MaxBatchSize {
		return MaxBatchSize
	}
	return size
}
