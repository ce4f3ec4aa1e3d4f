package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.echat/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	API      API      `toml:"api"`
	Realtime Realtime `toml:"realtime"`
	Daemon   Daemon   `toml:"daemon"`
}

// API configures the backend REST client.
type API struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	AssignedUserID int    `toml:"assigned_user_id"`
}

// Realtime configures the pub/sub websocket bridge.
type Realtime struct {
	URL     string `toml:"url"`
	Channel string `toml:"channel"`
}

// Daemon configures the local HTTP surface for UI layers.
type Daemon struct {
	Listen string `toml:"listen"`
}

// Default channel carrying new-message notifications.
const DefaultChannel = "e-chat-notification"

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.Realtime.Channel == "" {
		c.Realtime.Channel = DefaultChannel
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = "127.0.0.1:7343"
	}
}
