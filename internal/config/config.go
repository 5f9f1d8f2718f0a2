// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the detection service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Rules       RulesConfig       `mapstructure:"rules"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Suppression SuppressionConfig `mapstructure:"suppression"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RulesConfig holds rule loading settings.
type RulesConfig struct {
	Dir string `mapstructure:"dir"`
}

// EngineConfig holds evaluation state settings.
type EngineConfig struct {
	MaxWindowStates  int           `mapstructure:"max_window_states"`
	Shards           int           `mapstructure:"shards"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
	StateTTL         time.Duration `mapstructure:"state_ttl"`
}

// SuppressionConfig holds Redis-backed alert suppression settings.
type SuppressionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	Window   time.Duration `mapstructure:"window"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file path, with DETECT_
// environment variables overriding file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("rules.dir", "rules")

	v.SetDefault("engine.max_window_states", 100000)
	v.SetDefault("engine.shards", 16)
	v.SetDefault("engine.eviction_interval", "30s")
	v.SetDefault("engine.state_ttl", "0s")

	v.SetDefault("suppression.enabled", false)
	v.SetDefault("suppression.redis_url", "redis://localhost:6379/0")
	v.SetDefault("suppression.window", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DETECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Engine.MaxWindowStates <= 0 {
		return fmt.Errorf("engine.max_window_states must be positive, got %d", c.Engine.MaxWindowStates)
	}
	if c.Engine.Shards <= 0 {
		return fmt.Errorf("engine.shards must be positive, got %d", c.Engine.Shards)
	}
	if c.Suppression.Enabled && c.Suppression.Window <= 0 {
		return fmt.Errorf("suppression.window must be positive when suppression is enabled")
	}
	return nil
}
