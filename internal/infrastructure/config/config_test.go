package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard configuration",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "testuser",
				Password: "testpass",
				Database: "testdb",
				SSLMode:  "disable",
			},
			want: "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable",
		},
		{
			name: "production configuration",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "produser",
				Password: "securepass123",
				Database: "proddb",
				SSLMode:  "require",
			},
			want: "host=db.example.com port=5433 user=produser password=securepass123 dbname=proddb sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ConnectionString(); got != tt.want {
				t.Errorf("DatabaseConfig.ConnectionString() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitConfig(t *testing.T) {
	tests := []struct {
		name string
		env  string
	}{
		{name: "default dev environment", env: ""},
		{name: "test environment", env: "test"},
		{name: "prod environment", env: "prod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()

			if err := InitConfig(tt.env); err != nil {
				t.Fatalf("InitConfig() error = %v", err)
			}

			if viper.GetString("DB_USER") != "permatrix" {
				t.Errorf("InitConfig() DB_USER = %v, want permatrix", viper.GetString("DB_USER"))
			}
			if viper.GetInt("SAVE_BATCH_SIZE") != MaxBatchSize {
				t.Errorf("InitConfig() SAVE_BATCH_SIZE = %v, want %d", viper.GetInt("SAVE_BATCH_SIZE"), MaxBatchSize)
			}
			if !viper.GetBool("SAVE_TOUCH_PARENTS") {
				t.Error("InitConfig() SAVE_TOUCH_PARENTS should default to true")
			}
			if viper.GetString("METRICS_ADDR") != ":9090" {
				t.Errorf("InitConfig() METRICS_ADDR = %v, want :9090", viper.GetString("METRICS_ADDR"))
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func()
		wantErr     bool
		wantErrMsg  string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with password",
			setupEnv: func() {
				_ = InitConfig("test")
				viper.Set("DB_PASSWORD", "testpassword")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				if cfg.Database.Password != "testpassword" {
					t.Errorf("Load() Database.Password = %v, want testpassword", cfg.Database.Password)
				}
				if cfg.Save.BatchSize != 200 || cfg.Save.MaxConcurrentBatches != 0 || !cfg.Save.TouchParents {
					t.Errorf("Load() Save = %+v, want batch 200, unlimited concurrency, touch", cfg.Save)
				}
				if !cfg.Cache.Enabled || cfg.Cache.TTL() != 30*time.Minute || cfg.Cache.RefreshTTL() != 10*time.Minute {
					t.Errorf("Load() Cache = %+v", cfg.Cache)
				}
				if cfg.Metrics.Enabled {
					t.Error("Load() metrics should be disabled by default")
				}
			},
		},
		{
			name: "missing password",
			setupEnv: func() {
				viper.SetDefault("DB_HOST", "localhost")
			},
			wantErr:    true,
			wantErrMsg: "DB_PASSWORD is required (set via environment variable or .env file)",
		},
		{
			name: "batch size is clamped",
			setupEnv: func() {
				_ = InitConfig("test")
				viper.Set("DB_PASSWORD", "pass")
				viper.Set("SAVE_BATCH_SIZE", 5000)
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				if cfg.Save.BatchSize != MaxBatchSize {
					t.Errorf("Load() Save.BatchSize = %d, want %d", cfg.Save.BatchSize, MaxBatchSize)
				}
			},
		},
		{
			name: "zero batch size becomes one",
			setupEnv: func() {
				_ = InitConfig("test")
				viper.Set("DB_PASSWORD", "pass")
				viper.Set("SAVE_BATCH_SIZE", 0)
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				if cfg.Save.BatchSize != 1 {
					t.Errorf("Load() Save.BatchSize = %d, want 1", cfg.Save.BatchSize)
				}
			},
		},
		{
			name: "negative concurrency",
			setupEnv: func() {
				_ = InitConfig("test")
				viper.Set("DB_PASSWORD", "pass")
				viper.Set("SAVE_MAX_CONCURRENT_BATCHES", -1)
			},
			wantErr:    true,
			wantErrMsg: "invalid save config: max concurrent batches must not be negative, got -1",
		},
		{
			name: "unknown log level",
			setupEnv: func() {
				_ = InitConfig("test")
				viper.Set("DB_PASSWORD", "pass")
				viper.Set("LOG_LEVEL", "verbose")
			},
			wantErr:    true,
			wantErrMsg: `unknown log level: "verbose"`,
		},
		{
			name: "cache without ttl",
			setupEnv: func() {
				_ = InitConfig("test")
				viper.Set("DB_PASSWORD", "pass")
				viper.Set("CACHE_TTL_MINUTES", 0)
			},
			wantErr:    true,
			wantErrMsg: "CACHE_TTL_MINUTES must be positive when the cache is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			tt.setupEnv()

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if err.Error() != tt.wantErrMsg {
					t.Errorf("Load() error = %v, want %v", err.Error(), tt.wantErrMsg)
				}
				return
			}

			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestLoadWithoutDatabase(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	if err := InitConfig("test"); err != nil {
		t.Fatalf("InitConfig() error = %v", err)
	}
	viper.Set("DB_PASSWORD", "")
	viper.Set("SAVE_BATCH_SIZE", 50)

	cfg, err := LoadWithoutDatabase()
	if err != nil {
		t.Fatalf("LoadWithoutDatabase() error = %v", err)
	}
	if cfg.Save.BatchSize != 50 {
		t.Errorf("Save.BatchSize = %d, want 50", cfg.Save.BatchSize)
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want auto", cfg.Log.Format)
	}
}

func TestSaveConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SaveConfig
		wantErr string
	}{
		{name: "smallest batch", cfg: SaveConfig{BatchSize: 1}},
		{name: "largest batch with limit", cfg: SaveConfig{BatchSize: 200, MaxConcurrentBatches: 4}},
		{name: "zero batch", cfg: SaveConfig{BatchSize: 0}, wantErr: "between 1 and 200"},
		{name: "oversized batch", cfg: SaveConfig{BatchSize: 201}, wantErr: "between 1 and 200"},
		{name: "negative concurrency", cfg: SaveConfig{BatchSize: 10, MaxConcurrentBatches: -2}, wantErr: "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{level: "", want: slog.LevelInfo},
		{level: "DEBUG", want: slog.LevelDebug},
		{level: "warning", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "trace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := LogConfig{Level: tt.level}
			got, err := cfg.SlogLevel()
			if (err != nil) != tt.wantErr {
				t.Fatalf("SlogLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindProjectRoot(t *testing.T) {
	root, err := findProjectRoot()
	if err != nil {
		t.Fatalf("findProjectRoot() error = %v, want nil", err)
	}

	// Verify go.mod exists in the returned root
	goModPath := root + "/go.mod"
	if _, err := os.Stat(goModPath); os.IsNotExist(err) {
		t.Errorf("findProjectRoot() returned %v, but go.mod does not exist at %v", root, goModPath)
	}
}
