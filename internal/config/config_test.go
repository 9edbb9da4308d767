package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "conversed.toml")

	cfg := Default()
	cfg.ListenAddr = "127.0.0.1:9999"
	cfg.AdminUserIDs = []string{"admin-1", "admin-2"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:9999", loaded.ListenAddr)
	}
	if len(loaded.AdminUserIDs) != 2 || loaded.AdminUserIDs[0] != "admin-1" {
		t.Errorf("AdminUserIDs = %v, want [admin-1 admin-2]", loaded.AdminUserIDs)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/conversed.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "conversed.toml")
	if err := os.WriteFile(path, []byte("listen_addr = \"0.0.0.0:1234\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CacheTTLSeconds != 20 {
		t.Errorf("CacheTTLSeconds = %d, want default 20", cfg.CacheTTLSeconds)
	}
	if cfg.EditWindowHours != 12 {
		t.Errorf("EditWindowHours = %d, want default 12", cfg.EditWindowHours)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir not defaulted")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "conversed.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/conversed"}
	if got := cfg.DBPath(); got != "/var/lib/conversed/converse.db" {
		t.Errorf("DBPath() = %q", got)
	}
	if got := cfg.LogPath(); got != "/var/lib/conversed/logs/conversed.log" {
		t.Errorf("LogPath() = %q", got)
	}
}
