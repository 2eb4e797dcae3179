//go:build cgo && !windows

package platform

import (
	"fmt"
	"log/slog"

	"github.com/go-vgo/robotgo"
	"github.com/slimrmm/deskstream/internal/remotedesktop"
)

const inputBackend = "robotgo"

// robotgoInjector injects input through robotgo.
type robotgoInjector struct {
	logger *slog.Logger
}

// NewInjector returns the host input injector.
func NewInjector(logger *slog.Logger) (remotedesktop.Injector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !HasDisplayServer() {
		return nil, fmt.Errorf("%w: no display server", remotedesktop.ErrInputUnavailable)
	}
	if !CheckAccessibilityPermission() {
		return nil, fmt.Errorf("%w: accessibility permission not granted", remotedesktop.ErrInputUnavailable)
	}
	return &robotgoInjector{logger: logger}, nil
}

func (r *robotgoInjector) MoveTo(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (r *robotgoInjector) MouseToggle(button remotedesktop.MouseButton, down bool) error {
	name := "left"
	switch button {
	case remotedesktop.MouseButtonMiddle:
		name = "center"
	case remotedesktop.MouseButtonRight:
		name = "right"
	}

	state := "up"
	if down {
		state = "down"
	}
	robotgo.Toggle(name, state)
	return nil
}

func (r *robotgoInjector) Scroll(delta int) error {
	if delta != 0 {
		robotgo.Scroll(0, delta)
	}
	return nil
}

// KeyToggle ignores extended: robotgo picks the physical key from the name.
func (r *robotgoInjector) KeyToggle(vk uint16, down, extended bool) error {
	name, ok := KeyName(vk)
	if !ok {
		return fmt.Errorf("%w: 0x%02X has no key mapping", remotedesktop.ErrInvalidKeyCode, vk)
	}

	r.logger.Debug("keyboard event", "vk", vk, "key", name, "down", down)
	if down {
		robotgo.KeyDown(name)
	} else {
		robotgo.KeyUp(name)
	}
	return nil
}

func (r *robotgoInjector) Close() error {
	return nil
}
