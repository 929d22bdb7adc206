// Package config loads lowpansniff settings using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"inet.af/netaddr"
)

// EnvPrefix prefixes environment overrides, e.g. LOWPANSNIFF_LOG_LEVEL.
const EnvPrefix = "LOWPANSNIFF"

// Config is the top-level configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Topology TopologyConfig `mapstructure:"topology" yaml:"topology"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string        `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format string        `mapstructure:"format" yaml:"format"` // json / text
	File   LogFileConfig `mapstructure:"file" yaml:"file"`
}

// LogFileConfig configures rotated file output. Stdout is always on.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ─── Capture ───

// CaptureConfig describes where sniffer bytes come from.
type CaptureConfig struct {
	// Source is a device or file path, "-" for stdin, or tcp://host:port.
	Source       string `mapstructure:"source" yaml:"source"`
	BufferTail   bool   `mapstructure:"buffer_tail" yaml:"buffer_tail"`
	MaxFrameSize int    `mapstructure:"max_frame_size" yaml:"max_frame_size"`
	ChunkSize    int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	// RecordPath, when set, receives every frame as a pcap file.
	RecordPath string `mapstructure:"record_path" yaml:"record_path"`
}

// ─── Topology ───

// TopologyConfig controls address normalization.
type TopologyConfig struct {
	SitePrefix      string   `mapstructure:"site_prefix" yaml:"site_prefix"`
	ExcludePrefixes []string `mapstructure:"exclude_prefixes" yaml:"exclude_prefixes"`
}

// ─── Server ───

// ServerConfig configures the HTTP/WebSocket front end.
type ServerConfig struct {
	Listen      string `mapstructure:"listen" yaml:"listen"`
	MetricsPath string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// ─── Engine ───

// EngineConfig tunes the decode pipeline.
type EngineConfig struct {
	MaxPackets            int  `mapstructure:"max_packets" yaml:"max_packets"`
	AcceptInvalidChecksum bool `mapstructure:"accept_invalid_checksum" yaml:"accept_invalid_checksum"`
}

// ─── Loading ───

// Load reads the YAML file at path, applies LOWPANSNIFF_ environment
// overrides and defaults, and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Marshal renders cfg as YAML.
func (cfg *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "lowpansniff.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	// Capture defaults
	v.SetDefault("capture.source", "-")
	v.SetDefault("capture.buffer_tail", true)
	v.SetDefault("capture.max_frame_size", 2048)
	v.SetDefault("capture.chunk_size", 4096)
	v.SetDefault("capture.record_path", "")

	// Topology defaults
	v.SetDefault("topology.site_prefix", "aaaa::/64")
	v.SetDefault("topology.exclude_prefixes", []string{"fec0::/10"})

	// Server defaults
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.metrics_path", "/metrics")

	// Engine defaults
	v.SetDefault("engine.max_packets", 10000)
	v.SetDefault("engine.accept_invalid_checksum", true)
}

// Validate checks value ranges and prefix syntax.
func (cfg *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}

	if cfg.Capture.MaxFrameSize <= 0 {
		return fmt.Errorf("capture.max_frame_size must be positive, got %d", cfg.Capture.MaxFrameSize)
	}
	if cfg.Capture.ChunkSize <= 0 {
		return fmt.Errorf("capture.chunk_size must be positive, got %d", cfg.Capture.ChunkSize)
	}

	if cfg.Topology.SitePrefix != "" {
		if _, err := netaddr.ParseIPPrefix(cfg.Topology.SitePrefix); err != nil {
			return fmt.Errorf("invalid topology.site_prefix: %w", err)
		}
	}
	for _, p := range cfg.Topology.ExcludePrefixes {
		if _, err := netaddr.ParseIPPrefix(p); err != nil {
			return fmt.Errorf("invalid topology.exclude_prefixes entry: %w", err)
		}
	}

	if cfg.Engine.MaxPackets < 0 {
		return fmt.Errorf("engine.max_packets must not be negative, got %d", cfg.Engine.MaxPackets)
	}
	return nil
}
