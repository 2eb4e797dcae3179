package service

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

const systemdUnitTemplate = `[Unit]
Description={{.Description}}
PartOf=graphical-session.target
After=graphical-session.target network-online.target

[Service]
Type=simple
ExecStart={{join .Command}}
Restart=on-failure
RestartSec=10
{{- range $key, $value := .Environment}}
Environment="{{$key}}={{$value}}"
{{- end}}

[Install]
WantedBy=graphical-session.target
`

var systemdUnit = template.Must(template.New("systemd").Funcs(template.FuncMap{
	"join": func(args []string) string { return strings.Join(args, " ") },
}).Parse(systemdUnitTemplate))

// SystemdManager manages systemd user units.
type SystemdManager struct {
	UnitDir string
	run     runCommand
}

// NewSystemdManager returns a manager for the invoking user's units.
func NewSystemdManager() (*SystemdManager, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locating user config dir: %w", err)
	}
	return &SystemdManager{
		UnitDir: filepath.Join(dir, "systemd", "user"),
		run:     execCommand,
	}, nil
}

func (m *SystemdManager) unitPath(name string) string {
	return filepath.Join(m.UnitDir, name+".service")
}

func (m *SystemdManager) systemctl(args ...string) ([]byte, error) {
	return m.run("systemctl", append([]string{"--user"}, args...)...)
}

// Install writes the unit file and enables it.
func (m *SystemdManager) Install(cfg *Config) error {
	if m.IsInstalled(cfg.Name) {
		return ErrServiceExists
	}

	var buf bytes.Buffer
	if err := systemdUnit.Execute(&buf, cfg); err != nil {
		return fmt.Errorf("rendering unit file: %w", err)
	}

	if err := os.MkdirAll(m.UnitDir, 0755); err != nil {
		return fmt.Errorf("creating unit directory: %w", err)
	}
	if err := os.WriteFile(m.unitPath(cfg.Name), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	if out, err := m.systemctl("daemon-reload"); err != nil {
		return fmt.Errorf("reloading systemd: %s", strings.TrimSpace(string(out)))
	}
	if out, err := m.systemctl("enable", cfg.Name); err != nil {
		return fmt.Errorf("enabling service: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Uninstall stops and disables the unit and removes its file.
func (m *SystemdManager) Uninstall(name string) error {
	if !m.IsInstalled(name) {
		return ErrNotInstalled
	}

	// Best effort, the unit may already be stopped or disabled.
	m.systemctl("stop", name)
	m.systemctl("disable", name)

	if err := os.Remove(m.unitPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}

	m.systemctl("daemon-reload")
	return nil
}

// Start starts the unit.
func (m *SystemdManager) Start(name string) error {
	if out, err := m.systemctl("start", name); err != nil {
		return fmt.Errorf("starting service: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Stop stops the unit.
func (m *SystemdManager) Stop(name string) error {
	if out, err := m.systemctl("stop", name); err != nil {
		return fmt.Errorf("stopping service: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Status maps systemctl is-active output onto a Status.
func (m *SystemdManager) Status(name string) (Status, error) {
	if !m.IsInstalled(name) {
		return StatusUnknown, ErrNotInstalled
	}

	// is-active exits non-zero for inactive units, the output is what matters.
	out, _ := m.systemctl("is-active", name)
	switch strings.TrimSpace(string(out)) {
	case "active", "activating", "reloading":
		return StatusRunning, nil
	case "inactive", "failed", "deactivating":
		return StatusStopped, nil
	default:
		return StatusUnknown, nil
	}
}

// IsInstalled reports whether the unit file exists.
func (m *SystemdManager) IsInstalled(name string) bool {
	_, err := os.Stat(m.unitPath(name))
	return err == nil
}
