// Package config loads the encore host configuration from YAML with
// ENCORE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the host configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// EngineConfig holds the session defaults.
type EngineConfig struct {
	Verbosity      int           `yaml:"verbosity" env:"ENCORE_VERBOSITY" default:"0"`
	UpdateCheck    bool          `yaml:"update_check" env:"ENCORE_UPDATE_CHECK" default:"false"`
	UpdateURL      string        `yaml:"update_url" env:"ENCORE_UPDATE_URL"`
	HardwareDecode bool          `yaml:"hardware_decode" env:"ENCORE_HARDWARE_DECODE" default:"false"`
	PreviewCount   int           `yaml:"preview_count" env:"ENCORE_PREVIEW_COUNT" default:"10"`
	StorePreviews  bool          `yaml:"store_previews" env:"ENCORE_STORE_PREVIEWS" default:"false"`
	MinDuration    time.Duration `yaml:"min_duration" env:"ENCORE_MIN_DURATION" default:"10s"`
}

// CacheConfig locates on-disk caches.
type CacheConfig struct {
	PreviewDir string `yaml:"preview_dir" env:"ENCORE_PREVIEW_DIR"`
}

// DatabaseConfig selects the job history store. An empty Type disables it.
type DatabaseConfig struct {
	Type string `yaml:"type" env:"ENCORE_DB_TYPE" default:"sqlite"`
	Path string `yaml:"path" env:"ENCORE_DB_PATH"`
	DSN  string `yaml:"dsn" env:"ENCORE_DB_DSN"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host          string        `yaml:"host" env:"ENCORE_HOST" default:"127.0.0.1"`
	Port          int           `yaml:"port" env:"ENCORE_PORT" default:"8420"`
	StateInterval time.Duration `yaml:"state_interval" env:"ENCORE_STATE_INTERVAL" default:"200ms"`
	WatchDir      string        `yaml:"watch_dir" env:"ENCORE_WATCH_DIR"`
}

// LoggingConfig configures the host logger.
type LoggingConfig struct {
	Level string `yaml:"level" env:"ENCORE_LOG_LEVEL" default:"info"`
	JSON  bool   `yaml:"json" env:"ENCORE_LOG_JSON" default:"false"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	dataDir := os.Getenv("ENCORE_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	return &Config{
		Engine: EngineConfig{
			PreviewCount: 10,
			MinDuration:  10 * time.Second,
		},
		Cache: CacheConfig{
			PreviewDir: filepath.Join(dataDir, "previews"),
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(dataDir, "encore.db"),
		},
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          8420,
			StateInterval: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = &ValidationError{Field: key, Message: "must be an integer"}
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = &ValidationError{Field: key, Message: "must be a boolean"}
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = &ValidationError{Field: key, Message: "must be a duration"}
				return
			}
			*dst = d
		}
	}

	setInt("ENCORE_VERBOSITY", &c.Engine.Verbosity)
	setBool("ENCORE_UPDATE_CHECK", &c.Engine.UpdateCheck)
	setString("ENCORE_UPDATE_URL", &c.Engine.UpdateURL)
	setBool("ENCORE_HARDWARE_DECODE", &c.Engine.HardwareDecode)
	setInt("ENCORE_PREVIEW_COUNT", &c.Engine.PreviewCount)
	setBool("ENCORE_STORE_PREVIEWS", &c.Engine.StorePreviews)
	setDuration("ENCORE_MIN_DURATION", &c.Engine.MinDuration)

	setString("ENCORE_PREVIEW_DIR", &c.Cache.PreviewDir)

	setString("ENCORE_DB_TYPE", &c.Database.Type)
	setString("ENCORE_DB_PATH", &c.Database.Path)
	setString("ENCORE_DB_DSN", &c.Database.DSN)

	setString("ENCORE_HOST", &c.Server.Host)
	setInt("ENCORE_PORT", &c.Server.Port)
	setDuration("ENCORE_STATE_INTERVAL", &c.Server.StateInterval)
	setString("ENCORE_WATCH_DIR", &c.Server.WatchDir)

	setString("ENCORE_LOG_LEVEL", &c.Logging.Level)
	setBool("ENCORE_LOG_JSON", &c.Logging.JSON)
	return err
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.Verbosity < 0 || c.Engine.Verbosity > 3 {
		return &ValidationError{Field: "engine.verbosity", Message: "must be between 0 and 3"}
	}
	if c.Engine.PreviewCount < 1 || c.Engine.PreviewCount > 60 {
		return &ValidationError{Field: "engine.preview_count", Message: "must be between 1 and 60"}
	}
	if c.Engine.MinDuration < 0 {
		return &ValidationError{Field: "engine.min_duration", Message: "must not be negative"}
	}

	switch c.Database.Type {
	case "":
	case "sqlite":
		if c.Database.Path == "" {
			return &ValidationError{Field: "database.path", Message: "required for sqlite"}
		}
	case "postgres":
		if c.Database.DSN == "" {
			return &ValidationError{Field: "database.dsn", Message: "required for postgres"}
		}
	default:
		return &ValidationError{Field: "database.type", Message: "must be sqlite, postgres or empty"}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Server.StateInterval < 10*time.Millisecond {
		return &ValidationError{Field: "server.state_interval", Message: "must be at least 10ms"}
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: "must be trace, debug, info, warn or error"}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error in field '" + e.Field + "': " + e.Message
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
