// Package config provides YAML-based configuration for the shutdown engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/turbine-shutdown/backend/internal/sensor"
	"github.com/turbine-shutdown/backend/internal/storage"
)

// AppConfig is the root configuration document.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Validation ValidationConfig `yaml:"validation"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Procedure  ProcedureConfig  `yaml:"procedure"`
	Identity   IdentityConfig   `yaml:"identity"`
	Logging    LoggingConfig    `yaml:"logging"`
	Sessions   SessionsConfig   `yaml:"sessions"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	BindAddress  string        `yaml:"bind_address"`
	EnableCORS   bool          `yaml:"enable_cors"`
	AllowOrigins []string      `yaml:"allow_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	BodyLimit    string        `yaml:"body_limit"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Driver          string        `yaml:"driver"` // duckdb, postgres or memory
	DataDirectory   string        `yaml:"data_directory"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	DuckDBThreads   int           `yaml:"duckdb_threads"`
	DuckDBMemory    string        `yaml:"duckdb_memory_limit"`
}

// ValidationConfig tunes step evaluation.
type ValidationConfig struct {
	QualityThreshold float64       `yaml:"quality_threshold"`
	FeedTimeout      time.Duration `yaml:"feed_timeout"`
	HistoryCap       int           `yaml:"history_cap"`
	MaxClockSkew     time.Duration `yaml:"max_clock_skew"` // samples dated further ahead are refused
}

// SensorConfig configures sample acquisition.
type SensorConfig struct {
	MaxSampleAge time.Duration       `yaml:"max_sample_age"`
	OPCUA        sensor.OPCUAConfig  `yaml:"opcua"`
	Replay       sensor.ReplayConfig `yaml:"replay"`
}

// ProcedureConfig points at the procedure definition. An empty path uses the
// built-in 16-step checklist; a site's full step table (often around a
// hundred steps) is loaded from Path. configs/procedure.example.yaml shows
// the format.
type ProcedureConfig struct {
	Path string `yaml:"path"`
}

// IdentityConfig points at the user directory.
type IdentityConfig struct {
	UsersFile string `yaml:"users_file"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"` // console or json
	RequestLogging bool   `yaml:"request_logging"`
}

// SessionsConfig controls retention of finished sessions in memory.
type SessionsConfig struct {
	TerminalRetention time.Duration `yaml:"terminal_retention"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: []string{"*"},
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			BodyLimit:    "2M",
		},
		Storage: StorageConfig{
			Driver:          storage.DriverDuckDB,
			DataDirectory:   "./data",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			PingTimeout:     5 * time.Second,
			DuckDBThreads:   4,
			DuckDBMemory:    "512MB",
		},
		Validation: ValidationConfig{
			QualityThreshold: 0.5,
			FeedTimeout:      2 * time.Second,
			HistoryCap:       1024,
			MaxClockSkew:     5 * time.Second,
		},
		Sensor: SensorConfig{
			MaxSampleAge: 30 * time.Second,
		},
		Identity: IdentityConfig{
			UsersFile: "./users.yaml",
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "console",
			RequestLogging: true,
		},
		Sessions: SessionsConfig{
			TerminalRetention: 24 * time.Hour,
			CleanupInterval:   5 * time.Minute,
		},
	}
}

// LoadConfig reads the configuration file, writing the defaults first when
// the file does not exist. Environment overrides are applied last.
func LoadConfig(configPath string) (*AppConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()
	cfg.resolvePaths(filepath.Dir(configPath))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte("# Turbine shutdown engine configuration\n# This file is auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, out...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Driver {
	case storage.DriverDuckDB, storage.DriverMemory:
	case storage.DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of duckdb, postgres, memory", c.Storage.Driver)
	}
	if c.Validation.QualityThreshold < 0 || c.Validation.QualityThreshold > 1 {
		return fmt.Errorf("validation.quality_threshold %v must be within [0, 1]", c.Validation.QualityThreshold)
	}
	if c.Validation.MaxClockSkew < 0 {
		return errors.New("validation.max_clock_skew must not be negative")
	}
	if c.Validation.HistoryCap < 0 {
		return errors.New("validation.history_cap must not be negative")
	}
	return nil
}

func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
		c.Storage.Driver = storage.DriverPostgres
	}
	if level := os.Getenv("LOGGING_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOGGING_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if endpoint := os.Getenv("OPCUA_ENDPOINT"); endpoint != "" {
		c.Sensor.OPCUA.Endpoint = endpoint
	}
}

// resolvePaths makes relative paths relative to the config file location.
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{&c.Storage.DataDirectory, &c.Procedure.Path, &c.Identity.UsersFile, &c.Sensor.Replay.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// OPCUAEnabled reports whether an OPC UA endpoint is configured.
func (c *AppConfig) OPCUAEnabled() bool {
	return c.Sensor.OPCUA.Endpoint != ""
}

// ReplayEnabled reports whether a sensor trace should be replayed.
func (c *AppConfig) ReplayEnabled() bool {
	return c.Sensor.Replay.File != ""
}

// StorageOptions converts the storage section for storage.Open.
func (c *AppConfig) StorageOptions() storage.Config {
	return storage.Config{
		Driver:          c.Storage.Driver,
		DataDir:         c.Storage.DataDirectory,
		DSN:             c.Storage.DSN,
		PingTimeout:     c.Storage.PingTimeout,
		MaxOpenConns:    c.Storage.MaxOpenConns,
		MaxIdleConns:    c.Storage.MaxIdleConns,
		ConnMaxLifetime: c.Storage.ConnMaxLifetime,
		ConnMaxIdleTime: c.Storage.ConnMaxIdleTime,
		MemoryLimit:     c.Storage.DuckDBMemory,
		Threads:         c.Storage.DuckDBThreads,
	}
}

// GetDataDir returns the absolute data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetServerAddr returns the server bind address.
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates the data directory.
func (c *AppConfig) EnsureDirectories() error {
	if c.Storage.Driver == storage.DriverMemory {
		return nil
	}
	if err := os.MkdirAll(c.Storage.DataDirectory, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Storage.DataDirectory, err)
	}
	return nil
}
