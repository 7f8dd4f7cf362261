// Package config loads control-plane configuration from the environment
// and an optional config file in the data root.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// ReadTimeoutDuration returns the read timeout as a duration
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a duration
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProviderConfig holds CLI-provider selection settings
type ProviderConfig struct {
	Default         string `mapstructure:"default"`
	FallbackEnabled bool   `mapstructure:"fallback_enabled"`
}

// WatcherConfig holds file-watcher settings for the event bus
type WatcherConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Roots   []string `mapstructure:"roots"`
}

// Config is the top-level configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Provider ProviderConfig `mapstructure:"provider"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`

	DataRoot      string `mapstructure:"data_root"`
	AppRoot       string `mapstructure:"app_root"`
	AgentWorkRoot string `mapstructure:"agent_work_root"`
	OllamaURL     string `mapstructure:"ollama_url"`
	OllamaModel   string `mapstructure:"ollama_model"`
}

// Load reads configuration from environment variables and, when present,
// config.yaml in the data root. Environment variables win.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3030)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("provider.default", "claude")
	v.SetDefault("provider.fallback_enabled", true)
	v.SetDefault("watcher.enabled", false)

	v.SetEnvPrefix("NOLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy flat names used by the frontend launcher
	_ = v.BindEnv("server.host", "NOLAN_API_HOST")
	_ = v.BindEnv("server.port", "NOLAN_API_PORT")
	_ = v.BindEnv("data_root", "NOLAN_DATA_ROOT")
	_ = v.BindEnv("app_root", "NOLAN_APP_ROOT")
	_ = v.BindEnv("agent_work_root", "AGENT_WORK_ROOT")
	_ = v.BindEnv("ollama_url", "OLLAMA_URL")
	_ = v.BindEnv("ollama_model", "OLLAMA_MODEL")

	if root := v.GetString("data_root"); root != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(root)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
