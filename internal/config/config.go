// Package config handles configuration loading and validation for the launcher.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ryvie/ryvie-launcher/pkg/bytesize"
	"gopkg.in/yaml.v3"
)

// AppName is the directory name used under the per-user config directory.
const AppName = "ryvie-launcher"

// ProbeConfig holds configuration for the local reachability probe.
type ProbeConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"` // Duration string, e.g. "5s"
}

// LocalConfig holds configuration for local-mode connections.
type LocalConfig struct {
	AppURL string `yaml:"app_url"` // URL opened in local mode
}

// PublicConfig holds configuration for the public fallback check.
type PublicConfig struct {
	Timeout string `yaml:"timeout"`
}

// MeshConfig holds configuration for the VPN mesh client.
type MeshConfig struct {
	ManagementURL   string        `yaml:"management_url"`
	InstallDir      string        `yaml:"install_dir"`      // Linux only
	InstallerURL    string        `yaml:"installer_url"`    // Overrides the per-platform default
	InstallerSHA256 string        `yaml:"installer_sha256"` // Optional checksum of the installer artifact
	MaxInstallSize  bytesize.Size `yaml:"max_installer_size"`
	DownloadTimeout string        `yaml:"download_timeout"`
	InstallTimeout  string        `yaml:"install_timeout"`
	ConnectTimeout  string        `yaml:"connect_timeout"`
	CommandTimeout  string        `yaml:"command_timeout"`
}

// LauncherConfig holds configuration for the interactive front-end.
type LauncherConfig struct {
	AutoOpenDelay string `yaml:"auto_open_delay"`
	QR            bool   `yaml:"qr"`
}

// AgentConfig holds configuration for the headless background agent.
type AgentConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
	MetricsListen   string `yaml:"metrics_listen"` // Empty disables the metrics endpoint
	WatchNetwork    *bool  `yaml:"watch_network"`
}

// Config is the launcher configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
	Probe    ProbeConfig    `yaml:"probe"`
	Local    LocalConfig    `yaml:"local"`
	Public   PublicConfig   `yaml:"public"`
	Mesh     MeshConfig     `yaml:"mesh"`
	Launcher LauncherConfig `yaml:"launcher"`
	Agent    AgentConfig    `yaml:"agent"`
}

// DefaultDataDir returns the per-user application data directory.
func DefaultDataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultPath returns the default location of the launcher configuration file.
func DefaultPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "launcher.yaml"), nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file.
// An empty path loads the default file, which may be absent.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		if dir, err := DefaultDataDir(); err == nil {
			c.DataDir = dir
		} else {
			c.DataDir = filepath.Join(os.TempDir(), AppName)
		}
	}
	// Expand home directory in data dir
	if strings.HasPrefix(c.DataDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(homeDir, c.DataDir[2:])
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Probe.URL == "" {
		c.Probe.URL = "http://ryvie.local:3002/api/settings/ryvie-domains"
	}
	if c.Probe.Timeout == "" {
		c.Probe.Timeout = "5s"
	}
	if c.Local.AppURL == "" {
		c.Local.AppURL = "http://ryvie.local:3000"
	}
	if c.Public.Timeout == "" {
		c.Public.Timeout = "5s"
	}

	if c.Mesh.ManagementURL == "" {
		c.Mesh.ManagementURL = "https://netbird.ryvie.fr"
	}
	if c.Mesh.InstallDir == "" && runtime.GOOS == "linux" {
		c.Mesh.InstallDir = "/usr/local/bin"
	}
	if c.Mesh.MaxInstallSize == 0 {
		c.Mesh.MaxInstallSize = bytesize.Size(200 * bytesize.MB)
	}
	if c.Mesh.DownloadTimeout == "" {
		c.Mesh.DownloadTimeout = "5m"
	}
	if c.Mesh.InstallTimeout == "" {
		c.Mesh.InstallTimeout = "5m"
	}
	if c.Mesh.ConnectTimeout == "" {
		c.Mesh.ConnectTimeout = "30s"
	}
	if c.Mesh.CommandTimeout == "" {
		c.Mesh.CommandTimeout = "15s"
	}

	if c.Launcher.AutoOpenDelay == "" {
		c.Launcher.AutoOpenDelay = "2s"
	}

	if c.Agent.RefreshInterval == "" {
		c.Agent.RefreshInterval = "5m"
	}
	if c.Agent.WatchNetwork == nil {
		watch := true
		c.Agent.WatchNetwork = &watch
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if err := validateHTTPURL("probe.url", c.Probe.URL); err != nil {
		return err
	}
	if err := validateHTTPURL("local.app_url", c.Local.AppURL); err != nil {
		return err
	}
	if err := validateHTTPURL("mesh.management_url", c.Mesh.ManagementURL); err != nil {
		return err
	}
	if c.Mesh.InstallerURL != "" {
		if err := validateHTTPURL("mesh.installer_url", c.Mesh.InstallerURL); err != nil {
			return err
		}
	}
	if c.Mesh.MaxInstallSize < 0 {
		return fmt.Errorf("mesh.max_installer_size must not be negative")
	}

	durations := []struct {
		name  string
		value string
	}{
		{"probe.timeout", c.Probe.Timeout},
		{"public.timeout", c.Public.Timeout},
		{"mesh.download_timeout", c.Mesh.DownloadTimeout},
		{"mesh.install_timeout", c.Mesh.InstallTimeout},
		{"mesh.connect_timeout", c.Mesh.ConnectTimeout},
		{"mesh.command_timeout", c.Mesh.CommandTimeout},
		{"agent.refresh_interval", c.Agent.RefreshInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	// A zero delay opens immediately.
	if v, err := time.ParseDuration(c.Launcher.AutoOpenDelay); err != nil {
		return fmt.Errorf("invalid launcher.auto_open_delay: %w", err)
	} else if v < 0 {
		return fmt.Errorf("launcher.auto_open_delay must not be negative")
	}

	return nil
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// RecordPath returns the path of the persisted connection record.
func (c *Config) RecordPath() string {
	return filepath.Join(c.DataDir, "ryvie-config.json")
}

// LogPath returns the path of the agent log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "ryvie-launcher.log")
}

// ProbeTimeout returns the local probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return parseDuration(c.Probe.Timeout, 5*time.Second)
}

// PublicTimeout returns the public reachability check timeout.
func (c *Config) PublicTimeout() time.Duration {
	return parseDuration(c.Public.Timeout, 5*time.Second)
}

// DownloadTimeout returns the installer download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return parseDuration(c.Mesh.DownloadTimeout, 5*time.Minute)
}

// InstallTimeout returns the installer run timeout.
func (c *Config) InstallTimeout() time.Duration {
	return parseDuration(c.Mesh.InstallTimeout, 5*time.Minute)
}

// ConnectTimeout returns the mesh connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDuration(c.Mesh.ConnectTimeout, 30*time.Second)
}

// CommandTimeout returns the timeout for short mesh commands such as logout.
func (c *Config) CommandTimeout() time.Duration {
	return parseDuration(c.Mesh.CommandTimeout, 15*time.Second)
}

// AutoOpenDelay returns the delay before the automatic browser open.
func (c *Config) AutoOpenDelay() time.Duration {
	return parseDuration(c.Launcher.AutoOpenDelay, 2*time.Second)
}

// RefreshInterval returns the agent's periodic refresh interval.
func (c *Config) RefreshInterval() time.Duration {
	return parseDuration(c.Agent.RefreshInterval, 5*time.Minute)
}

// WatchNetwork reports whether the agent refreshes on network changes.
func (c *Config) WatchNetwork() bool {
	return c.Agent.WatchNetwork == nil || *c.Agent.WatchNetwork
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
