// Package service installs the host as a per-user autostart entry so it runs
// inside the graphical session it captures.
package service

import (
	"errors"
	"os/exec"
	"runtime"
)

// Status represents the state of an installed host.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusUnknown Status = "unknown"
)

var (
	ErrNotInstalled  = errors.New("service not installed")
	ErrServiceExists = errors.New("service already exists")
	ErrUnsupported   = errors.New("service management not supported on this platform")
)

// Manager provides autostart management operations.
type Manager interface {
	Install(cfg *Config) error
	Uninstall(name string) error
	Start(name string) error
	Stop(name string) error
	Status(name string) (Status, error)
	IsInstalled(name string) bool
}

// Config describes how the host is launched.
type Config struct {
	Name        string
	DisplayName string
	Description string
	ExecPath    string
	Args        []string
	Environment map[string]string
}

// DefaultConfig returns the autostart configuration for the binary at
// execPath reading configPath.
func DefaultConfig(execPath, configPath string) *Config {
	cfg := &Config{
		Name:        "deskstream",
		DisplayName: "DeskStream",
		Description: "DeskStream remote desktop host",
		ExecPath:    execPath,
	}
	if configPath != "" {
		cfg.Args = []string{"--config", configPath}
	}
	if runtime.GOOS == "darwin" {
		cfg.Name = "com.deskstream.host"
	}
	return cfg
}

// Command returns the full command line.
func (c *Config) Command() []string {
	return append([]string{c.ExecPath}, c.Args...)
}

// New creates a manager for the current OS.
func New() (Manager, error) {
	switch runtime.GOOS {
	case "linux":
		m, err := NewSystemdManager()
		if err != nil {
			return nil, err
		}
		return m, nil
	case "darwin":
		m, err := NewLaunchdManager()
		if err != nil {
			return nil, err
		}
		return m, nil
	case "windows":
		return newWindowsManager()
	default:
		return nil, ErrUnsupported
	}
}

// runCommand runs name with args and returns its combined output.
type runCommand func(name string, args ...string) ([]byte, error)

func execCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}
