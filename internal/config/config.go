// Package config handles host configuration loading and saving.
// Configuration is stored as JSON (comments allowed) with restricted
// permissions (0600).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/slimrmm/deskstream/internal/remotedesktop"
	"github.com/slimrmm/deskstream/internal/rtc"
	"github.com/tidwall/jsonc"
)

const (
	configFileName = "deskstream.json"
	configFileMode = 0600
	certsDirMode   = 0700
)

var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Config holds the host configuration.
type Config struct {
	ListenAddr     string   `json:"listen_addr"`
	WebSocketPath  string   `json:"websocket_path"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	TLSCert       string `json:"tls_cert,omitempty"`
	TLSKey        string `json:"tls_key,omitempty"`
	ClientCA      string `json:"client_ca,omitempty"`
	SelfSignedTLS bool   `json:"self_signed_tls"`

	LogDir    string `json:"log_dir,omitempty"`
	LogFormat string `json:"log_format,omitempty"`
	Debug     bool   `json:"debug"`

	// Initial settings of every session.
	JPEGQuality  int  `json:"jpeg_quality"`
	MaxFPS       int  `json:"max_fps"`
	ShowCursor   bool `json:"show_cursor"`
	MonitorIndex int  `json:"monitor_index"`
	AllowInput   bool `json:"allow_input"`

	ReadTimeoutSeconds  int   `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int   `json:"write_timeout_seconds"`
	PingPeriodSeconds   int   `json:"ping_period_seconds"`
	MaxMessageSize      int64 `json:"max_message_size"`

	ConnectRate  float64 `json:"connect_rate"`
	ConnectBurst int     `json:"connect_burst"`
	MaxSessions  int     `json:"max_sessions"`

	WebRTCEnabled bool            `json:"webrtc_enabled"`
	ICEServers    []rtc.ICEServer `json:"ice_servers,omitempty"`

	filePath string
}

// Paths holds the various paths used by the host.
type Paths struct {
	BaseDir    string
	ConfigFile string
	CertsDir   string
	LogDir     string
	ServerCert string
	ServerKey  string
	ClientCA   string
}

// DefaultPaths returns the default paths for the current OS.
func DefaultPaths() Paths {
	var baseDir, logDir string

	switch runtime.GOOS {
	case "darwin":
		baseDir = "/Library/Application Support/DeskStream"
		logDir = "/var/log/deskstream"
	case "windows":
		baseDir = filepath.Join(os.Getenv("ProgramData"), "DeskStream")
		logDir = filepath.Join(baseDir, "log")
	default: // linux
		baseDir = "/var/lib/deskstream"
		logDir = "/var/log/deskstream"
	}

	certsDir := filepath.Join(baseDir, "certs")

	return Paths{
		BaseDir:    baseDir,
		ConfigFile: filepath.Join(baseDir, configFileName),
		CertsDir:   certsDir,
		LogDir:     logDir,
		ServerCert: filepath.Join(certsDir, "server.crt"),
		ServerKey:  filepath.Join(certsDir, "server.key"),
		ClientCA:   filepath.Join(certsDir, "ca.crt"),
	}
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	s := remotedesktop.DefaultSettings()
	return &Config{
		ListenAddr:          ":8443",
		WebSocketPath:       "/ws/desktop",
		LogFormat:           "json",
		JPEGQuality:         s.JPEGQuality,
		MaxFPS:              s.MaxFPS,
		ShowCursor:          s.ShowCursor,
		MonitorIndex:        s.MonitorIndex,
		AllowInput:          s.AllowInput,
		ReadTimeoutSeconds:  60,
		WriteTimeoutSeconds: 10,
		PingPeriodSeconds:   30,
		MaxMessageSize:      64 * 1024,
		ConnectRate:         1,
		ConnectBurst:        5,
		MaxSessions:         4,
		WebRTCEnabled:       true,
	}
}

// Load reads the configuration from disk. Keys missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.filePath = path
	return cfg, nil
}

// Validate checks field ranges and cross-field requirements.
func (c *Config) Validate() error {
	var problems []string

	if c.ListenAddr == "" {
		problems = append(problems, "listen_addr is required")
	}
	if !strings.HasPrefix(c.WebSocketPath, "/") {
		problems = append(problems, "websocket_path must start with /")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		problems = append(problems, "tls_cert and tls_key must be set together")
	}
	if c.ClientCA != "" && c.TLSCert == "" && !c.SelfSignedTLS {
		problems = append(problems, "client_ca requires TLS")
	}
	if c.JPEGQuality < remotedesktop.MinJPEGQuality || c.JPEGQuality > remotedesktop.MaxJPEGQuality {
		problems = append(problems, fmt.Sprintf("jpeg_quality must be between %d and %d",
			remotedesktop.MinJPEGQuality, remotedesktop.MaxJPEGQuality))
	}
	if c.MaxFPS < remotedesktop.MinFPS || c.MaxFPS > remotedesktop.MaxFPS {
		problems = append(problems, fmt.Sprintf("max_fps must be between %d and %d",
			remotedesktop.MinFPS, remotedesktop.MaxFPS))
	}
	if c.MonitorIndex < remotedesktop.AllMonitors {
		problems = append(problems, "monitor_index must be -1 or a monitor index")
	}
	if c.ReadTimeoutSeconds <= 0 || c.WriteTimeoutSeconds <= 0 || c.PingPeriodSeconds <= 0 {
		problems = append(problems, "timeouts must be positive")
	}
	if c.PingPeriodSeconds >= c.ReadTimeoutSeconds {
		problems = append(problems, "ping_period_seconds must be less than read_timeout_seconds")
	}
	if c.MaxMessageSize <= 0 {
		problems = append(problems, "max_message_size must be positive")
	}
	if c.ConnectRate <= 0 || c.ConnectBurst < 1 {
		problems = append(problems, "connect_rate and connect_burst must be positive")
	}
	if c.MaxSessions < 1 {
		problems = append(problems, "max_sessions must be at least 1")
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			problems = append(problems, fmt.Sprintf("ice_servers[%d] has no urls", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Save writes the configuration to disk with restricted permissions.
func (c *Config) Save() error {
	if c.filePath == "" {
		return errors.New("config file path not set")
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.filePath, data, configFileMode); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetPath sets the file Save writes to.
func (c *Config) SetPath(path string) {
	c.filePath = path
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.filePath
}

// SessionSettings returns the initial settings of a new session.
func (c *Config) SessionSettings() remotedesktop.Settings {
	return remotedesktop.Settings{
		JPEGQuality:  c.JPEGQuality,
		MaxFPS:       c.MaxFPS,
		ShowCursor:   c.ShowCursor,
		MonitorIndex: c.MonitorIndex,
		AllowInput:   c.AllowInput,
	}
}

// TLSEnabled reports whether the listener serves TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" || c.SelfSignedTLS
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c *Config) PingPeriod() time.Duration {
	return time.Duration(c.PingPeriodSeconds) * time.Second
}

// EnsureDirectories creates all necessary directories with proper permissions.
func EnsureDirectories(paths Paths) error {
	dirs := []struct {
		path string
		mode os.FileMode
	}{
		{paths.BaseDir, 0755},
		{paths.CertsDir, certsDirMode},
		{paths.LogDir, 0755},
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.mode); err != nil {
			return fmt.Errorf("creating directory %s: %w", d.path, err)
		}
		// Ensure correct permissions even if directory exists
		if err := os.Chmod(d.path, d.mode); err != nil {
			return fmt.Errorf("setting permissions on %s: %w", d.path, err)
		}
	}

	return nil
}
