// Package config holds tunnel server configuration, loaded from an
// optional TOML file with command-line flags overriding.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Caddy configures the embedded TLS frontend.
type Caddy struct {
	Enabled bool   `toml:"enabled"`
	Email   string `toml:"email"`
}

// Server is the tunnel server configuration. Interval fields are seconds.
type Server struct {
	Listen        string `toml:"listen"`
	Domain        string `toml:"domain"`
	AuthFile      string `toml:"auth_file"`
	SessionTTL    int    `toml:"session_ttl"`
	ProxyTimeout  int    `toml:"proxy_timeout"`
	PingInterval  int    `toml:"ping_interval"`
	CaptureSize   int    `toml:"capture_size"`
	CaptureDB     string `toml:"capture_db"`
	BodyCap       int    `toml:"body_cap"`
	SessionSecret string `toml:"session_secret"`
	Caddy         Caddy  `toml:"caddy"`
}

// Default returns the built-in configuration.
func Default() Server {
	return Server{
		Listen:       ":8080",
		Domain:       "localhost",
		SessionTTL:   int((2 * time.Hour).Seconds()),
		ProxyTimeout: 30,
		PingInterval: 30,
		CaptureSize:  500,
		BodyCap:      64 * 1024,
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error when path is empty; an explicit path must exist.
func Load(path string) (Server, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s does not exist", path)
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot run with.
func (c Server) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if c.Domain == "" {
		return errors.New("domain must not be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if c.ProxyTimeout <= 0 {
		return errors.New("proxy_timeout must be positive")
	}
	if c.CaptureSize <= 0 {
		return errors.New("capture_size must be positive")
	}
	return nil
}

// SessionTTLDuration returns session_ttl as a duration.
func (c Server) SessionTTLDuration() time.Duration {
	return time.Duration(c.SessionTTL) * time.Second
}

// ProxyTimeoutDuration returns proxy_timeout as a duration.
func (c Server) ProxyTimeoutDuration() time.Duration {
	return time.Duration(c.ProxyTimeout) * time.Second
}

// PingIntervalDuration returns ping_interval as a duration.
func (c Server) PingIntervalDuration() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}
