package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "sensorhub"
	configFile = "config.yaml"
)

// Defaults carried over from the hub's first deployment
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 8080
	DefaultMaxClients        = 10
	DefaultHeartbeatTimeout  = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultCleanupInterval   = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultMaxFrameSize      = 1 << 20
	DefaultServerName        = "Jeep Sensor Hub"
	DefaultFeedAddr          = ":8081"
	DefaultMDNSInstance      = "sensorhub"
)

// DefaultCapabilities is what the hub advertises in its welcome frame.
var DefaultCapabilities = []string{"sensor_data", "engine_state", "power_state", "commands"}

// Config is the on-disk hub configuration.
type Config struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	MaxClients        int           `yaml:"max_clients"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	MaxFrameSize      uint32        `yaml:"max_frame_size"`
	LogLevel          string        `yaml:"log_level,omitempty"`
	CaptureDir        string        `yaml:"capture_dir,omitempty"` // empty = capture disabled
	ServerName        string        `yaml:"server_name"`
	Capabilities      []string      `yaml:"capabilities"`
	MDNS              MDNS          `yaml:"mdns"`
	Feed              Feed          `yaml:"feed"`
}

// MDNS controls advertisement of the hub on the local network.
type MDNS struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Feed controls the WebSocket relay of inbound messages.
type Feed struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		MaxClients:        DefaultMaxClients,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		CleanupInterval:   DefaultCleanupInterval,
		WriteTimeout:      DefaultWriteTimeout,
		MaxFrameSize:      DefaultMaxFrameSize,
		ServerName:        DefaultServerName,
		Capabilities:      append([]string(nil), DefaultCapabilities...),
		MDNS: MDNS{
			Enabled:  false,
			Instance: DefaultMDNSInstance,
		},
		Feed: Feed{
			Enabled: false,
			Addr:    DefaultFeedAddr,
		},
	}
}

// GetConfigDir returns the OS-appropriate configuration directory:
//   - Linux: $XDG_CONFIG_HOME/sensorhub or $HOME/.config/sensorhub
//   - macOS: $HOME/.config/sensorhub
//   - Windows: %LOCALAPPDATA%\sensorhub
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, appName), nil
		}
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(userProfile, "AppData", "Local", appName), nil

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil

	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil
	}
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the configuration at path on top of the defaults.
//
// With an empty path the default location is used and a missing file is not
// an error. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that the values can run a server.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1, got %d", c.MaxClients)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if c.MaxFrameSize == 0 {
		return fmt.Errorf("max_frame_size must be positive")
	}
	if c.MDNS.Enabled && c.MDNS.Instance == "" {
		return fmt.Errorf("mdns.instance is required when mdns is enabled")
	}
	if c.Feed.Enabled && c.Feed.Addr == "" {
		return fmt.Errorf("feed.addr is required when the feed is enabled")
	}
	return nil
}

// Addr returns host:port for net.Listen
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Save writes the configuration to path, creating the directory if needed.
// The write goes through a temporary file and a rename.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Sensor hub configuration\n# Durations use Go syntax (30s, 1m).\n\n")
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}
