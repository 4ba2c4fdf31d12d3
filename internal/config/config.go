// Package config handles ripple configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for ripple.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Channel settings
	Channel ChannelConfig `yaml:"channel" mapstructure:"channel"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig contains data-service settings.
type ServerConfig struct {
	// APIURL is the data service root, e.g. https://api.example.com.
	APIURL string `yaml:"api_url" mapstructure:"api_url"`

	// Timeout bounds a single data-service request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ChannelConfig contains push-channel settings.
type ChannelConfig struct {
	// URL is the websocket endpoint, e.g. wss://api.example.com/ws.
	URL string `yaml:"url" mapstructure:"url"`

	// MinBackoff is the initial reconnect delay.
	MinBackoff time.Duration `yaml:"min_backoff" mapstructure:"min_backoff"`

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// DatabaseConfig contains local state settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			APIURL:  "http://localhost:8800",
			Timeout: 15 * time.Second,
		},
		Channel: ChannelConfig{
			URL:        "ws://localhost:8900/ws",
			MinBackoff: 500 * time.Millisecond,
			MaxBackoff: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "ripple.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.Server.APIURL); err != nil || c.Server.APIURL == "" {
		return fmt.Errorf("server.api_url is not a valid URL: %q", c.Server.APIURL)
	}
	u, err := url.Parse(c.Channel.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("channel.url must be a ws:// or wss:// URL: %q", c.Channel.URL)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Channel.MinBackoff > c.Channel.MaxBackoff {
		return fmt.Errorf("channel.min_backoff exceeds channel.max_backoff")
	}
	return nil
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "ripple")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ripple"
	}
	return filepath.Join(home, ".local", "share", "ripple")
}
