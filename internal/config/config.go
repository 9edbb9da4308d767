package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration file (conversed.toml).
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	DataDir    string `toml:"data_dir"`

	// JWTSecret signs/verifies session identity tokens. Authentication itself
	// is an external collaborator; the daemon only resolves tokens to user ids.
	JWTSecret string `toml:"jwt_secret"`

	// RedisAddr enables the query cache and the cross-instance event bridge.
	// Empty means in-memory cache and single-instance fan-out only.
	RedisAddr string `toml:"redis_addr"`

	// CacheTTLSeconds bounds staleness of cached paginated views when
	// invalidation itself fails.
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`

	// EditWindowHours is how long after sending a text message its author may
	// still edit it.
	EditWindowHours int `toml:"edit_window_hours"`

	// AdminUserIDs are platform-wide administrators, added to every newly
	// created group.
	AdminUserIDs []string `toml:"admin_user_ids"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ListenAddr:      "127.0.0.1:8480",
		DataDir:         filepath.Join(home, ".conversed"),
		CacheTTLSeconds: 20,
		EditWindowHours: 12,
	}
}

// Load reads config from the given path, applying defaults for zero fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = Default().ListenAddr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = Default().DataDir
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = Default().CacheTTLSeconds
	}
	if cfg.EditWindowHours <= 0 {
		cfg.EditWindowHours = Default().EditWindowHours
	}
	return cfg, nil
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

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// EditWindow returns the message edit window as a duration.
func (c *Config) EditWindow() time.Duration {
	return time.Duration(c.EditWindowHours) * time.Hour
}
