// Package config handles configuration for the client: defaults, optional
// JSON overlay, and command-line flags, later sources winning.
package config

import "time"

// ClientVersion is sent along status checks so the server can refuse
// clients older than the vault schema requires.
const ClientVersion = "1.4.0"

// Config holds runtime settings for the vaultsync client.
type Config struct {
	// ServerURL is the base URL of the sync server, e.g. "http://127.0.0.1:8080".
	ServerURL string
	// DatabasePath is where the local encrypted vault snapshot lives.
	DatabasePath string
	// OnlineCheckInterval is how often the watcher probes reachability.
	OnlineCheckInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DatabasePath = "vaultsync.db"
	c.OnlineCheckInterval = 3 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
