// Package config loads service configuration from defaults, an optional YAML
// file, environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docutag/linkmeta"
	"github.com/docutag/linkmeta/db"
	"github.com/docutag/linkmeta/images"
	"github.com/docutag/linkmeta/pipeline"
	"github.com/docutag/linkmeta/scheduler"
	"github.com/docutag/linkmeta/storage"
	"github.com/docutag/linkmeta/tracing"
	"github.com/docutag/linkmeta/urlguard"
)

// Configuration validation errors
var (
	ErrInvalidPort      = errors.New("server.port must be between 1 and 65535")
	ErrInvalidStorage   = errors.New("storage.backend must be 'filesystem' (with a path) or 's3' (with bucket and region)")
	ErrInvalidSchedule  = errors.New("sweep.schedule must be a valid cron expression")
	ErrInvalidEngine    = errors.New("scraper.article.engine must be 'density' or 'readability'")
	ErrInvalidLogLevel  = errors.New("log.level must be one of: debug, info, warn, error")
	ErrInvalidRateLimit = errors.New("server.rate_limit and server.rate_burst must be positive")
)

const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// Config is the complete service configuration
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Log      LogConfig       `yaml:"log"`
	Database db.Config       `yaml:"database"`
	Storage  StorageConfig   `yaml:"storage"`
	Images   images.Config   `yaml:"images"`
	Tracing  tracing.Config  `yaml:"tracing"`
	Scraper  linkmeta.Config `yaml:"scraper"`
	Pipeline pipeline.Config `yaml:"pipeline"`
	Sweep    SweepConfig     `yaml:"sweep"`

	// AllowPrivateNetworks disables the SSRF guard. Local development only.
	AllowPrivateNetworks bool `yaml:"allow_private_networks"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port        int     `yaml:"port"`
	CORSEnabled bool    `yaml:"cors_enabled"`
	RateLimit   float64 `yaml:"rate_limit"` // Requests per second per client IP
	RateBurst   int     `yaml:"rate_burst"`
	TrustProxy  bool    `yaml:"trust_proxy"` // Rate limit by X-Forwarded-For
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig selects and configures the image store
type StorageConfig struct {
	Backend string           `yaml:"backend"`
	Path    string           `yaml:"path"`
	S3      storage.S3Config `yaml:"s3"`
}

// SweepConfig configures the scheduled link health sweep
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			CORSEnabled: true,
			RateLimit:   2,
			RateBurst:   10,
		},
		Log: LogConfig{Level: "info"},
		Database: db.Config{
			Port: 5432,
			User: "linkmeta",
			Name: "linkmeta",
		},
		Storage: StorageConfig{
			Backend: StorageFilesystem,
			Path:    storage.DefaultConfig().BasePath,
		},
		Images:   images.DefaultConfig(),
		Tracing:  tracing.DefaultConfig(),
		Scraper:  linkmeta.DefaultConfig(),
		Pipeline: pipeline.DefaultConfig(),
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: scheduler.DefaultSchedule,
		},
	}
}

// Load builds the configuration from args (without the program name) and
// the process environment
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("linkmeta", flag.ContinueOnError)
	configPath := fs.String("config", getEnv("CONFIG_FILE", ""), "Path to a YAML config file")
	port := fs.Int("port", 0, "Server port")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	disableCORS := fs.Bool("disable-cors", false, "Disable CORS")
	disableSweep := fs.Bool("disable-sweep", false, "Disable the scheduled link sweep")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "log-level":
			cfg.Log.Level = *logLevel
		case "disable-cors":
			cfg.Server.CORSEnabled = !*disableCORS
		case "disable-sweep":
			cfg.Sweep.Enabled = !*disableSweep
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer environment value, using default", "key", key, "provided", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid boolean environment value, using default", "key", key, "provided", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Server.TrustProxy = getEnvBool("TRUST_PROXY", c.Server.TrustProxy)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Storage.S3.Endpoint = getEnv("S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.Region = getEnv("S3_REGION", c.Storage.S3.Region)
	c.Storage.S3.Bucket = getEnv("S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.Storage.S3.AccessKeyID)
	c.Storage.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.Storage.S3.SecretAccessKey)
	c.Storage.S3.UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", c.Storage.S3.UsePathStyle)

	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Tracing.ServiceName)

	c.Sweep.Schedule = getEnv("LINK_SWEEP_SCHEDULE", c.Sweep.Schedule)
	c.AllowPrivateNetworks = getEnvBool("ALLOW_PRIVATE_NETWORKS", c.AllowPrivateNetworks)
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
		return ErrInvalidRateLimit
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageFilesystem:
		if c.Storage.Path == "" {
			return ErrInvalidStorage
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" || c.Storage.S3.Region == "" {
			return ErrInvalidStorage
		}
	default:
		return ErrInvalidStorage
	}

	if c.Sweep.Enabled {
		if err := scheduler.Validate(c.Sweep.Schedule); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}
	if !c.Scraper.Article.Engine.Valid() {
		return ErrInvalidEngine
	}
	return nil
}

// DatabaseEnabled reports whether a Postgres host is configured
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != ""
}

// Engine returns the scraper configuration with the guard applied
func (c *Config) Engine() linkmeta.Config {
	engine := c.Scraper
	engine.Guard = urlguard.Guard{AllowPrivate: c.AllowPrivateNetworks}
	return engine
}

// ParseLevel maps a level name to a slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, level)
}
