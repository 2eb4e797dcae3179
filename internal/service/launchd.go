package service

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
)

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Name}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Command}}
        <string>{{.}}</string>
{{- end}}
    </array>
{{- if .Environment}}
    <key>EnvironmentVariables</key>
    <dict>
{{- range $key, $value := .Environment}}
        <key>{{$key}}</key>
        <string>{{$value}}</string>
{{- end}}
    </dict>
{{- end}}
    <key>LimitLoadToSessionType</key>
    <string>Aqua</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

var launchdPlist = template.Must(template.New("launchd").Parse(launchdPlistTemplate))

// LaunchdManager manages LaunchAgents of the logged-in user.
type LaunchdManager struct {
	AgentDir string
	UID      int
	run      runCommand
}

// NewLaunchdManager returns a manager for ~/Library/LaunchAgents.
func NewLaunchdManager() (*LaunchdManager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locating home dir: %w", err)
	}
	return &LaunchdManager{
		AgentDir: filepath.Join(home, "Library", "LaunchAgents"),
		UID:      os.Getuid(),
		run:      execCommand,
	}, nil
}

func (m *LaunchdManager) plistPath(name string) string {
	return filepath.Join(m.AgentDir, name+".plist")
}

func (m *LaunchdManager) domain() string {
	return "gui/" + strconv.Itoa(m.UID)
}

// Install writes the agent plist and bootstraps it into the GUI domain.
func (m *LaunchdManager) Install(cfg *Config) error {
	if m.IsInstalled(cfg.Name) {
		return ErrServiceExists
	}

	var buf bytes.Buffer
	if err := launchdPlist.Execute(&buf, cfg); err != nil {
		return fmt.Errorf("rendering plist: %w", err)
	}

	if err := os.MkdirAll(m.AgentDir, 0755); err != nil {
		return fmt.Errorf("creating agent directory: %w", err)
	}
	path := m.plistPath(cfg.Name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing plist: %w", err)
	}

	if out, err := m.run("launchctl", "bootstrap", m.domain(), path); err != nil {
		return fmt.Errorf("loading agent: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Uninstall boots the agent out and removes its plist.
func (m *LaunchdManager) Uninstall(name string) error {
	if !m.IsInstalled(name) {
		return ErrNotInstalled
	}

	path := m.plistPath(name)
	// Fails when the agent is not loaded.
	m.run("launchctl", "bootout", m.domain(), path)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist: %w", err)
	}
	return nil
}

// Start (re)starts the agent.
func (m *LaunchdManager) Start(name string) error {
	if out, err := m.run("launchctl", "kickstart", "-k", m.domain()+"/"+name); err != nil {
		return fmt.Errorf("starting agent: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Stop sends SIGTERM to the agent.
func (m *LaunchdManager) Stop(name string) error {
	if out, err := m.run("launchctl", "kill", "SIGTERM", m.domain()+"/"+name); err != nil {
		return fmt.Errorf("stopping agent: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Status reads the state line of launchctl print.
func (m *LaunchdManager) Status(name string) (Status, error) {
	if !m.IsInstalled(name) {
		return StatusUnknown, ErrNotInstalled
	}

	out, err := m.run("launchctl", "print", m.domain()+"/"+name)
	if err != nil {
		return StatusStopped, nil
	}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || strings.TrimSpace(key) != "state" {
			continue
		}
		if strings.TrimSpace(value) == "running" {
			return StatusRunning, nil
		}
		return StatusStopped, nil
	}
	return StatusUnknown, nil
}

// IsInstalled reports whether the plist exists.
func (m *LaunchdManager) IsInstalled(name string) bool {
	_, err := os.Stat(m.plistPath(name))
	return err == nil
}
