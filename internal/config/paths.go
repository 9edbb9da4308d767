package config

import "path/filepath"

// DBPath returns the SQLite database path under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "converse.db")
}

// LogDir returns the log directory under the data dir.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir(), "conversed.log")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Default().DataDir, "conversed.toml")
}
