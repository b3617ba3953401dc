// Package config loads and validates the remotefs configuration file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	API   APIConfig   `yaml:"api" mapstructure:"api"`
	FS    FSConfig    `yaml:"fs" mapstructure:"fs"`
	Watch WatchConfig `yaml:"watch" mapstructure:"watch"`
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// APIConfig represents the HTTP tool API configuration
type APIConfig struct {
	Port   int    `yaml:"port" mapstructure:"port"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// FSConfig represents filesystem access configuration
type FSConfig struct {
	// AllowedRoots restricts every tool operation to paths under one of
	// these directories. Empty means deny everything.
	AllowedRoots []string `yaml:"allowed_roots" mapstructure:"allowed_roots"`
}

// WatchConfig represents watch-session pool configuration
type WatchConfig struct {
	MaxWatchers       int           `yaml:"max_watchers" mapstructure:"max_watchers"`
	MaxPerPath        int           `yaml:"max_per_path" mapstructure:"max_per_path"`
	MaxPerOwner       int           `yaml:"max_per_owner" mapstructure:"max_per_owner"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time" mapstructure:"max_idle_time"`
	Debounce          time.Duration `yaml:"debounce" mapstructure:"debounce"`
	MonitoringEnabled *bool         `yaml:"monitoring_enabled" mapstructure:"monitoring_enabled"`
}

// CacheConfig represents read-through cache configuration.
// MaxSize bounds the cumulative payload bytes per cache instance;
// MaxEntries bounds the entry count of the underlying LRU.
type CacheConfig struct {
	MaxSize    int64         `yaml:"max_size" mapstructure:"max_size"`
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"`
	MaxAge     time.Duration `yaml:"max_age" mapstructure:"max_age"`
}

// LogConfig represents logging configuration with rotation support
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`               // Log file path (empty = console only)
	Level      string `yaml:"level" mapstructure:"level"`             // Log level (debug, info, warn, error)
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // Max size in MB before rotation
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // Max age in days to keep files
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // Number of rotated files to keep
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // Compress rotated files
}

// MonitoringEnabledOrDefault reports whether cache-coherence watching is
// on. Defaults to true when unset.
func (c *WatchConfig) MonitoringEnabledOrDefault() bool {
	if c.MonitoringEnabled == nil {
		return true
	}
	return *c.MonitoringEnabled
}

// DefaultConfig returns a configuration with sensible defaults applied.
func DefaultConfig() Config {
	enabled := true
	return Config{
		API: APIConfig{
			Port:   8080,
			Prefix: "/api",
		},
		Watch: WatchConfig{
			MaxWatchers:       200,
			MaxPerPath:        5,
			MaxPerOwner:       50,
			CleanupInterval:   time.Minute,
			MaxIdleTime:       5 * time.Minute,
			Debounce:          100 * time.Millisecond,
			MonitoringEnabled: &enabled,
		},
		Cache: CacheConfig{
			MaxSize:    64 << 20, // 64 MiB
			MaxEntries: 10000,
			MaxAge:     time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    10,
			MaxAge:     14,
			MaxBackups: 5,
		},
	}
}

// LoadConfig reads the YAML configuration file at path, applies defaults
// for unset keys and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	if len(c.FS.AllowedRoots) == 0 {
		return fmt.Errorf("fs.allowed_roots must list at least one directory")
	}
	if c.Watch.MaxWatchers <= 0 {
		return fmt.Errorf("watch.max_watchers must be positive, got %d", c.Watch.MaxWatchers)
	}
	if c.Watch.MaxPerPath <= 0 {
		return fmt.Errorf("watch.max_per_path must be positive, got %d", c.Watch.MaxPerPath)
	}
	if c.Watch.MaxPerOwner <= 0 {
		return fmt.Errorf("watch.max_per_owner must be positive, got %d", c.Watch.MaxPerOwner)
	}
	if c.Watch.CleanupInterval <= 0 {
		return fmt.Errorf("watch.cleanup_interval must be positive")
	}
	if c.Watch.MaxIdleTime <= 0 {
		return fmt.Errorf("watch.max_idle_time must be positive")
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be positive")
	}
	return nil
}
