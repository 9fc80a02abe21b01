// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. It maps to the `iex-parser:`
// root key in YAML; environment variables use the IEX_PARSER_ prefix
// (e.g. IEX_PARSER_LOG_LEVEL).
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Decode DecodeConfig `mapstructure:"decode"`
	Batch  BatchConfig  `mapstructure:"batch"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level"`  // debug / info / warn / error
	Format string           `mapstructure:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// DecodeConfig contains settings for a single decode pass.
type DecodeConfig struct {
	OutputDir string `mapstructure:"output_dir"`

	// BufferSize bounds the packet hand-off channel between the
	// reader and the decoder, which is what applies backpressure to
	// reading when sinks are slow.
	BufferSize int `mapstructure:"buffer_size"`

	// ProgressEvery logs a progress line every N packets, 0 disables.
	ProgressEvery uint64 `mapstructure:"progress_every"`
}

// BatchConfig contains settings for batch directory processing.
type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

// configRoot is the wrapper matching the YAML structure `iex-parser: ...`.
type configRoot struct {
	IEXParser Config `mapstructure:"iex-parser"`
}

// Load loads configuration from file. An empty path skips the file and
// uses defaults plus environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variable overrides. The `iex-parser.` key prefix
	// maps to IEX_PARSER_ via the key replacer
	// (key "iex-parser.log.level" matches env "IEX_PARSER_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.IEXParser

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values. All keys use the "iex-parser."
// prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("iex-parser.log.level", "info")
	v.SetDefault("iex-parser.log.format", "text")
	v.SetDefault("iex-parser.log.file.enabled", false)
	v.SetDefault("iex-parser.log.file.path", "/var/log/iex-parser/iex-parser.log")
	v.SetDefault("iex-parser.log.file.rotation.max_size_mb", 100)
	v.SetDefault("iex-parser.log.file.rotation.max_age_days", 30)
	v.SetDefault("iex-parser.log.file.rotation.max_backups", 5)
	v.SetDefault("iex-parser.log.file.rotation.compress", true)

	// Decode defaults
	v.SetDefault("iex-parser.decode.output_dir", ".")
	v.SetDefault("iex-parser.decode.buffer_size", 1024)
	v.SetDefault("iex-parser.decode.progress_every", 10_000_000)

	// Batch defaults
	v.SetDefault("iex-parser.batch.workers", 4)
}

// ValidateAndApplyDefaults validates the configuration.
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}

	if cfg.Decode.OutputDir == "" {
		return fmt.Errorf("decode.output_dir must not be empty")
	}
	if cfg.Decode.BufferSize <= 0 {
		return fmt.Errorf("decode.buffer_size must be positive, got %d", cfg.Decode.BufferSize)
	}

	if cfg.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive, got %d", cfg.Batch.Workers)
	}

	return nil
}
