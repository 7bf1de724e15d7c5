package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/stackctl/internal/core/stack"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Project   ProjectConfig    `mapstructure:"project"`
	Backup    BackupConfig     `mapstructure:"backup"`
	Preflight PreflightConfig  `mapstructure:"preflight"`
	Poll      PollConfig       `mapstructure:"poll"`
	Checks    ChecksConfig     `mapstructure:"checks"`
	Log       LogConfig        `mapstructure:"log"`
	Endpoints []stack.Endpoint `mapstructure:"endpoints"`
}

// ProjectConfig identifies the stack under management.
type ProjectConfig struct {
	Name     string `mapstructure:"name"`
	Manifest string `mapstructure:"manifest"`
	DataDir  string `mapstructure:"data_dir"`
}

// BackupConfig holds backup archive configuration.
type BackupConfig struct {
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

// PreflightConfig holds pre-deploy host checks configuration.
type PreflightConfig struct {
	Tools      []string `mapstructure:"tools"`
	MinFreeGiB uint64   `mapstructure:"min_free_gib"`
}

// MinFreeBytes converts the configured threshold to bytes.
func (c PreflightConfig) MinFreeBytes() uint64 {
	return c.MinFreeGiB * 1024 * 1024 * 1024
}

// PollConfig holds the health polling bounds applied to every service.
type PollConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
}

// Defaults converts to the registry's poll defaults.
func (c PollConfig) Defaults() stack.PollDefaults {
	return stack.PollDefaults{MaxAttempts: c.MaxAttempts, Interval: c.Interval}
}

// ChecksConfig holds the post-deploy validation targets.
type ChecksConfig struct {
	PrimaryURL     string   `mapstructure:"primary_url"`
	ModulesURL     string   `mapstructure:"modules_url"`
	APIService     string   `mapstructure:"api_service"`
	DatastoreProbe []string `mapstructure:"datastore_probe"`
	SchemaInit     []string `mapstructure:"schema_init"`
	TestSuite      []string `mapstructure:"test_suite"`
}

// LogConfig holds logging configuration. Every invocation writes a
// timestamped log file under Dir in addition to the terminal output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("project.name", "stack")
	v.SetDefault("project.manifest", "./docker-compose.yml")
	v.SetDefault("project.data_dir", "./data")
	v.SetDefault("backup.dir", "./backups")
	v.SetDefault("backup.prefix", "data")
	v.SetDefault("preflight.tools", []string{"docker"})
	v.SetDefault("preflight.min_free_gib", 10)
	v.SetDefault("poll.max_attempts", 30)
	v.SetDefault("poll.interval", "10s")
	v.SetDefault("checks.primary_url", "http://localhost:8080/health")
	v.SetDefault("checks.modules_url", "http://localhost:8080/health/modules")
	v.SetDefault("checks.api_service", "api")
	v.SetDefault("checks.datastore_probe", []string{"pg_isready", "-U", "postgres"})
	v.SetDefault("checks.schema_init", []string{"/app/scripts/init-schema.sh"})
	v.SetDefault("checks.test_suite", []string{"/app/scripts/run-tests.sh"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.dir", "./logs")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("STACKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. The
// output is teed to a per-invocation log file under the log directory;
// the returned closer flushes that file.
func SetupLogger(cfg *Config, startedAt time.Time) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if err := os.MkdirAll(cfg.Log.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(cfg.Log.Dir, fmt.Sprintf("stackctl-%s.log", startedAt.UTC().Format("20060102-150405")))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	out := io.MultiWriter(os.Stdout, logFile)

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), logFile, nil
}
