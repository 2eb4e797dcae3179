package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/slimrmm/deskstream/internal/rtc"
)

func TestDefaultPaths(t *testing.T) {
	paths := DefaultPaths()

	if paths.BaseDir == "" {
		t.Error("BaseDir should not be empty")
	}
	if paths.ConfigFile == "" {
		t.Error("ConfigFile should not be empty")
	}
	if paths.LogDir == "" {
		t.Error("LogDir should not be empty")
	}

	for name, p := range map[string]string{
		"ServerCert": paths.ServerCert,
		"ServerKey":  paths.ServerKey,
		"ClientCA":   paths.ClientCA,
	} {
		if filepath.Dir(p) != paths.CertsDir {
			t.Errorf("%s = %s, want inside %s", name, p, paths.CertsDir)
		}
	}

	if runtime.GOOS == "linux" && paths.BaseDir != "/var/lib/deskstream" {
		t.Errorf("linux BaseDir = %s, want /var/lib/deskstream", paths.BaseDir)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}

	s := cfg.SessionSettings()
	if s.JPEGQuality != 75 || s.MaxFPS != 30 || !s.ShowCursor || s.MonitorIndex != 0 || !s.AllowInput {
		t.Errorf("SessionSettings() = %+v, want defaults", s)
	}
	if cfg.ReadTimeout() != 60*time.Second {
		t.Errorf("ReadTimeout() = %v, want 60s", cfg.ReadTimeout())
	}
	if cfg.TLSEnabled() {
		t.Error("TLSEnabled() = true, want false by default")
	}
}

func TestLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), configFileName)

	data := `{
	// viewer-facing listener
	"listen_addr": "127.0.0.1:9000",
	"jpeg_quality": 50,
	"max_fps": 15, /* low bandwidth */
	"allow_input": false,
	"ice_servers": [
		{"urls": ["turn:turn.example.com:3478"], "username": "u", "credential": "p"},
	],
}`
	if err := os.WriteFile(configPath, []byte(data), configFileMode); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %s, want 127.0.0.1:9000", cfg.ListenAddr)
	}
	if cfg.JPEGQuality != 50 || cfg.MaxFPS != 15 || cfg.AllowInput {
		t.Errorf("session fields = (%d, %d, %v), want (50, 15, false)", cfg.JPEGQuality, cfg.MaxFPS, cfg.AllowInput)
	}
	// Omitted keys keep defaults.
	if cfg.WebSocketPath != "/ws/desktop" || !cfg.ShowCursor {
		t.Errorf("defaults lost: path=%s show_cursor=%v", cfg.WebSocketPath, cfg.ShowCursor)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Username != "u" {
		t.Errorf("ICEServers = %+v, want one TURN server", cfg.ICEServers)
	}
	if cfg.Path() != configPath {
		t.Errorf("Path() = %s, want %s", cfg.Path(), configPath)
	}
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Load() error = %v, want %v", err, ErrConfigNotFound)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), configFileName)
	if err := os.WriteFile(configPath, []byte("{not json"), configFileMode); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should fail on invalid JSON")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"quality too high", func(c *Config) { c.JPEGQuality = 101 }, "jpeg_quality"},
		{"fps zero", func(c *Config) { c.MaxFPS = 0 }, "max_fps"},
		{"monitor below all", func(c *Config) { c.MonitorIndex = -2 }, "monitor_index"},
		{"cert without key", func(c *Config) { c.TLSCert = "server.crt" }, "tls_key"},
		{"client ca without tls", func(c *Config) { c.ClientCA = "ca.crt" }, "client_ca"},
		{"ping after timeout", func(c *Config) { c.PingPeriodSeconds = 60 }, "ping_period_seconds"},
		{"bad path", func(c *Config) { c.WebSocketPath = "ws" }, "websocket_path"},
		{"no sessions", func(c *Config) { c.MaxSessions = 0 }, "max_sessions"},
		{"empty ice server", func(c *Config) { c.ICEServers = []rtc.ICEServer{{}} }, "ice_servers[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want %v", err, ErrInvalidConfig)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sub", configFileName)

	cfg := Default()
	cfg.MaxFPS = 12
	cfg.SetPath(configPath)
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(configPath)
		if err != nil {
			t.Fatalf("failed to stat config: %v", err)
		}
		if info.Mode().Perm() != configFileMode {
			t.Errorf("config mode = %o, want %o", info.Mode().Perm(), configFileMode)
		}
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if loaded.MaxFPS != 12 {
		t.Errorf("MaxFPS = %d, want 12", loaded.MaxFPS)
	}
}

func TestSaveWithoutPath(t *testing.T) {
	if err := Default().Save(); err == nil {
		t.Error("Save() without path should fail")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	paths := Paths{
		BaseDir:  filepath.Join(base, "data"),
		CertsDir: filepath.Join(base, "data", "certs"),
		LogDir:   filepath.Join(base, "log"),
	}

	if err := EnsureDirectories(paths); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{paths.BaseDir, paths.CertsDir, paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}
