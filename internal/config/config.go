// Package config handles signalgw configuration loading: CLI flags are
// authoritative per-process settings, with an optional YAML file used
// to seed webhook registrations and daemon tuning at boot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./signalgw.yaml, ~/.config/signalgw/config.yaml,
// /config/signalgw.yaml, /etc/signalgw/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"signalgw.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "signalgw", "config.yaml"))
	}

	paths = append(paths, "/config/signalgw.yaml") // Container convention
	paths = append(paths, "/etc/signalgw/config.yaml")
	return paths
}

// searchPathsFunc is indirected for tests so they can avoid discovering
// real config files on the developer/CI machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns ("", nil) if no file was found and none was explicitly requested —
// callers treat that as "run with flag defaults only".
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// Config holds the optional file-backed configuration layer. CLI flags
// (see cmd/signalgw) always take precedence over these values; Config
// only fills in what flags left at their zero value.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	TLS       TLSConfig       `yaml:"tls"`
	Webhooks  []WebhookSeed   `yaml:"webhooks"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the gateway's HTTP listener.
type ListenConfig struct {
	Address string `yaml:"address"` // host:port, e.g. "127.0.0.1:8080"
}

// TLSConfig defines optional HTTPS termination. Both fields must be set
// together to enable TLS.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// Enabled reports whether both halves of the TLS keypair are configured.
func (c TLSConfig) Enabled() bool {
	return c.CertPath != "" && c.KeyPath != ""
}

// DaemonConfig tunes how the Daemon Supervisor locates and starts
// signal-cli. Leave ExternalAddress empty to have the gateway spawn and
// supervise its own signal-cli child process.
type DaemonConfig struct {
	ExternalAddress string        `yaml:"external_address"`
	BinaryName      string        `yaml:"binary_name"`
	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	PortRangeStart  int           `yaml:"port_range_start"`
	PortRangeEnd    int           `yaml:"port_range_end"`
}

// WebhookSeed is a webhook registration loaded from the config file at
// startup. Equivalent to calling POST /v1/webhooks once per entry.
type WebhookSeed struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Load reads configuration from a YAML file, expands environment
// variables, and applies defaults for any unset fields. path may be
// empty, in which case an empty (all-defaults) Config is returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		cfg.applyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${SIGNAL_CLI_HOME}). Convenience
	// for container deployments; values can also go directly in the file.
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Listen.Address == "" {
		c.Listen.Address = "127.0.0.1:8080"
	}
	if c.Daemon.BinaryName == "" {
		c.Daemon.BinaryName = "signal-cli"
	}
	if c.Daemon.StartupTimeout == 0 {
		c.Daemon.StartupTimeout = 10 * time.Second
	}
	if c.Daemon.PortRangeStart == 0 {
		c.Daemon.PortRangeStart = 15000
	}
	if c.Daemon.PortRangeEnd == 0 {
		c.Daemon.PortRangeEnd = 15100
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.Daemon.PortRangeEnd < c.Daemon.PortRangeStart {
		return fmt.Errorf("daemon.port_range_end %d precedes port_range_start %d", c.Daemon.PortRangeEnd, c.Daemon.PortRangeStart)
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
	}
	return nil
}

// Default returns a default configuration with no file backing it,
// suitable for running the gateway with flags alone.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
