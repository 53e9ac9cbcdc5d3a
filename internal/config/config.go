package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultAckTimeout bounds how long a send waits for a server acknowledgement
// before the message is marked failed.
const DefaultAckTimeout = 10 * time.Second

// Config represents the global ~/.connect-world/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	ServerURL      string `toml:"server_url"`
	UserID         string `toml:"user_id"`
	Username       string `toml:"username"`
	AckTimeoutMS   int    `toml:"ack_timeout_ms"`
}

// AckTimeout returns the configured acknowledgement timeout, or the default
// when unset.
func (c *Config) AckTimeout() time.Duration {
	if c.AckTimeoutMS <= 0 {
		return DefaultAckTimeout
	}
	return time.Duration(c.AckTimeoutMS) * time.Millisecond
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
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
