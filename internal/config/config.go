// Package config loads and persists the server catalog and the timing
// settings used by the connection orchestrator.
//
// The canonical on-disk format is TOML (what `hoplink init` generates);
// YAML catalogs are accepted as well, selected by file extension.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Server describes one connection target: a VPN profile to bring up, an RDP
// address behind it, and an optional SSH target in user@host form.
type Server struct {
	Name string `toml:"name" yaml:"name"`
	SSH  string `toml:"ssh,omitempty" yaml:"ssh,omitempty"`
	RDP  string `toml:"rdp" yaml:"rdp"`
	VPN  string `toml:"vpn" yaml:"vpn"`
}

// HasSSH reports whether an SSH target is configured for this server.
func (s Server) HasSSH() bool {
	return strings.TrimSpace(s.SSH) != ""
}

// SSHHost extracts the host part of the SSH target (everything after the
// first "@"). A target without "@" is malformed.
func (s Server) SSHHost() (string, error) {
	_, host, found := strings.Cut(s.SSH, "@")
	if !found || host == "" {
		return "", fmt.Errorf("ssh target %q is not in user@host form", s.SSH)
	}
	return host, nil
}

// Settings holds the timing knobs for connection attempts. Zero or negative
// values are replaced with defaults when a catalog is loaded.
type Settings struct {
	VPNTimeoutSecs int `toml:"vpn_timeout_secs" yaml:"vpn_timeout_secs"`
	PingTimeoutMs  int `toml:"ping_timeout_ms" yaml:"ping_timeout_ms"`
	PingRetries    int `toml:"ping_retries" yaml:"ping_retries"`
}

// DefaultSettings returns the stock timing values.
func DefaultSettings() Settings {
	return Settings{
		VPNTimeoutSecs: 30,
		PingTimeoutMs:  3000,
		PingRetries:    3,
	}
}

// Normalize replaces non-positive fields with their defaults.
func (s *Settings) Normalize() {
	def := DefaultSettings()
	if s.VPNTimeoutSecs <= 0 {
		s.VPNTimeoutSecs = def.VPNTimeoutSecs
	}
	if s.PingTimeoutMs <= 0 {
		s.PingTimeoutMs = def.PingTimeoutMs
	}
	if s.PingRetries < 1 {
		s.PingRetries = def.PingRetries
	}
}

// VPNTimeout returns the VPN establishment timeout as a duration.
func (s Settings) VPNTimeout() time.Duration {
	return time.Duration(s.VPNTimeoutSecs) * time.Second
}

// PingTimeout returns the per-probe timeout as a duration.
func (s Settings) PingTimeout() time.Duration {
	return time.Duration(s.PingTimeoutMs) * time.Millisecond
}

// Config is the root catalog structure: the server list plus settings.
type Config struct {
	Servers  []Server `toml:"servers" yaml:"servers"`
	Settings Settings `toml:"settings" yaml:"settings"`
}

// Load reads and parses the catalog at path. The format is chosen by
// extension: .yaml/.yml parse as YAML, everything else as TOML. A catalog
// with no servers is rejected, and settings are normalized.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("no servers defined in config file %s", path)
	}

	cfg.Settings.Normalize()
	logrus.WithField("path", path).Debugf("loaded %d servers from config", len(cfg.Servers))

	return &cfg, nil
}

// Save writes the catalog back to path in the format its extension implies.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = encodeTOML(c)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath returns the per-user catalog path if one exists, otherwise
// servers.toml in the current directory.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "hoplink", "servers.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "servers.toml"
}

// Default returns the built-in sample catalog, used when no config file
// exists yet.
func Default() *Config {
	return &Config{
		Servers: []Server{
			{
				Name: "Edge Gateway",
				SSH:  "root@10.40.0.8",
				RDP:  "10.40.0.10",
				VPN:  "EDGE-GW",
			},
			{
				Name: "Plant Floor",
				RDP:  "10.50.1.20",
				VPN:  "PLANT",
			},
			{
				Name: "Warehouse",
				SSH:  "admin@192.168.12.5",
				RDP:  "192.168.12.10",
				VPN:  "WAREHOUSE",
			},
			{
				// Shares the Warehouse VPN, RDP only.
				Name: "Label Printer Host",
				RDP:  "192.168.12.31",
				VPN:  "WAREHOUSE",
			},
		},
		Settings: DefaultSettings(),
	}
}

// Sample renders the built-in catalog as TOML, for `hoplink init`.
func Sample() (string, error) {
	data, err := encodeTOML(Default())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeTOML(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
