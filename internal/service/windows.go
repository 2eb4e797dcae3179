//go:build windows

package service

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// Services run in session 0 without access to the interactive desktop, so
// the host is started from the user's Run key at logon instead.
const runKeyPath = `Software\Microsoft\Windows\CurrentVersion\Run`

// WindowsManager manages the logon autostart entry of the current user.
type WindowsManager struct{}

func newWindowsManager() (Manager, error) {
	return &WindowsManager{}, nil
}

func quoteCommand(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = syscall.EscapeArg(a)
	}
	return strings.Join(quoted, " ")
}

// Install adds the Run value. Run values hold only a command line, so
// cfg.Environment is not applied.
func (m *WindowsManager) Install(cfg *Config) error {
	if m.IsInstalled(cfg.Name) {
		return ErrServiceExists
	}

	key, _, err := registry.CreateKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("opening Run key: %w", err)
	}
	defer key.Close()

	if err := key.SetStringValue(cfg.Name, quoteCommand(cfg.Command())); err != nil {
		return fmt.Errorf("writing Run value: %w", err)
	}
	return nil
}

// Uninstall stops the host and removes the Run value.
func (m *WindowsManager) Uninstall(name string) error {
	if !m.IsInstalled(name) {
		return ErrNotInstalled
	}
	if err := m.Stop(name); err != nil && !errors.Is(err, ErrNotInstalled) {
		return err
	}

	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("opening Run key: %w", err)
	}
	defer key.Close()

	if err := key.DeleteValue(name); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("deleting Run value: %w", err)
	}
	return nil
}

func (m *WindowsManager) command(name string) (string, error) {
	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.QUERY_VALUE)
	if err != nil {
		return "", ErrNotInstalled
	}
	defer key.Close()

	cmd, _, err := key.GetStringValue(name)
	if err != nil {
		return "", ErrNotInstalled
	}
	return cmd, nil
}

// Start launches the registered command detached from the console.
func (m *WindowsManager) Start(name string) error {
	cmdLine, err := m.command(name)
	if err != nil {
		return err
	}
	if st, _ := m.Status(name); st == StatusRunning {
		return nil
	}

	cmd := exec.Command("cmd.exe")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:       `/c start "" ` + cmdLine,
		HideWindow:    true,
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("starting host: %w", err)
	}
	return nil
}

// Stop terminates every process running the registered executable.
func (m *WindowsManager) Stop(name string) error {
	procs, err := m.running(name)
	if err != nil {
		return err
	}
	for _, p := range procs {
		if err := p.Terminate(); err != nil {
			return fmt.Errorf("terminating pid %d: %w", p.Pid, err)
		}
	}
	return nil
}

// Status reports whether the registered executable is running.
func (m *WindowsManager) Status(name string) (Status, error) {
	procs, err := m.running(name)
	if err != nil {
		return StatusUnknown, err
	}
	if len(procs) > 0 {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

func (m *WindowsManager) running(name string) ([]*process.Process, error) {
	cmdLine, err := m.command(name)
	if err != nil {
		return nil, err
	}
	exe := executableOf(cmdLine)

	procs, err := process.ProcessesWithContext(context.Background())
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var matches []*process.Process
	for _, p := range procs {
		path, err := p.Exe()
		if err == nil && strings.EqualFold(path, exe) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// executableOf returns the first, possibly quoted, token of cmdLine.
func executableOf(cmdLine string) string {
	if rest, ok := strings.CutPrefix(cmdLine, `"`); ok {
		exe, _, _ := strings.Cut(rest, `"`)
		return exe
	}
	exe, _, _ := strings.Cut(cmdLine, " ")
	return exe
}

// IsInstalled reports whether the Run value exists.
func (m *WindowsManager) IsInstalled(name string) bool {
	_, err := m.command(name)
	return err == nil
}
