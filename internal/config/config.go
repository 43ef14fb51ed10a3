package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment overrides
const (
	EnvConfigPath = "MODSYNC_CONFIG"
	EnvBaseURL    = "MODSYNC_BASE_URL"
)

// Config holds all application configuration
type Config struct {
	Version int           `toml:"version"`
	Server  ServerConfig  `toml:"server"`
	Sync    SyncConfig    `toml:"sync"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	// BaseURL is used until the moderator saves a different one.
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type SyncConfig struct {
	PageLimit              int `toml:"page_limit"`
	AnalyticsDays          int `toml:"analytics_days"`
	RefreshIntervalMinutes int `toml:"refresh_interval_minutes"`
	SnapshotKeep           int `toml:"snapshot_keep"`
}

type StorageConfig struct {
	// PrefsPath is the SQLite file for preferences and the token. Empty means
	// prefs.db next to the config file.
	PrefsPath string `toml:"prefs_path"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			BaseURL:        "http://localhost:5000",
			TimeoutSeconds: 10,
		},
		Sync: SyncConfig{
			PageLimit:              50,
			AnalyticsDays:          7,
			RefreshIntervalMinutes: 5,
			SnapshotKeep:           5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks values a user may have hand-edited
func (c *Config) Validate() error {
	var errs []error
	if c.Server.BaseURL != "" {
		if err := ValidateBaseURL(c.Server.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("server.base_url: %w", err))
		}
	}
	if c.Server.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("server.timeout_seconds must not be negative"))
	}
	if c.Sync.PageLimit < 0 {
		errs = append(errs, fmt.Errorf("sync.page_limit must not be negative"))
	}
	if c.Sync.AnalyticsDays < 0 || c.Sync.AnalyticsDays > 30 {
		errs = append(errs, fmt.Errorf("sync.analytics_days must be between 1 and 30"))
	}
	if c.Sync.RefreshIntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("sync.refresh_interval_minutes must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidateBaseURL accepts absolute http and https URLs
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must start with http:// or https://", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// Timeout is the per-request timeout
func (c *Config) Timeout() time.Duration {
	if c.Server.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// PrefsPath resolves the preferences database location
func (c *Config) PrefsPath() (string, error) {
	if c.Storage.PrefsPath != "" {
		return c.Storage.PrefsPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prefs.db"), nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return filepath.Dir(p), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "modsync"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the directory for snapshot caches
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "modsync"), nil
}

// Load reads config from the default path
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads config from path. Keys missing from the file keep their defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrCreate loads the config, writing the defaults first if no file exists
func LoadOrCreate() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Default().SaveTo(path); err != nil {
			return nil, err
		}
	}
	return LoadFrom(path)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		c.Server.BaseURL = v
	}
}

// Save writes config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes config to path
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}
