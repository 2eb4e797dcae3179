//go:build windows

package platform

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/lxn/win"
	"github.com/slimrmm/deskstream/internal/remotedesktop"
	"golang.org/x/sys/windows"
)

const (
	inputBackend = "sendinput"

	wheelDelta   = 120
	mapvkVKToVSC = 0
)

var (
	user32             = windows.NewLazySystemDLL("user32.dll")
	procMapVirtualKeyW = user32.NewProc("MapVirtualKeyW")
)

// sendInputInjector injects input with SendInput. It runs in the
// interactive session; the secure desktop rejects synthetic input.
type sendInputInjector struct {
	logger *slog.Logger
}

// NewInjector returns the host input injector.
func NewInjector(logger *slog.Logger) (remotedesktop.Injector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := procMapVirtualKeyW.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", remotedesktop.ErrInputUnavailable, err)
	}
	return &sendInputInjector{logger: logger}, nil
}

func (s *sendInputInjector) MoveTo(x, y int) error {
	if !win.SetCursorPos(int32(x), int32(y)) {
		return fmt.Errorf("SetCursorPos(%d, %d): %w", x, y, windows.GetLastError())
	}
	return nil
}

func (s *sendInputInjector) MouseToggle(button remotedesktop.MouseButton, down bool) error {
	var flags uint32
	switch button {
	case remotedesktop.MouseButtonLeft:
		flags = win.MOUSEEVENTF_LEFTUP
		if down {
			flags = win.MOUSEEVENTF_LEFTDOWN
		}
	case remotedesktop.MouseButtonMiddle:
		flags = win.MOUSEEVENTF_MIDDLEUP
		if down {
			flags = win.MOUSEEVENTF_MIDDLEDOWN
		}
	case remotedesktop.MouseButtonRight:
		flags = win.MOUSEEVENTF_RIGHTUP
		if down {
			flags = win.MOUSEEVENTF_RIGHTDOWN
		}
	default:
		return nil
	}

	return sendMouse(win.MOUSEINPUT{DwFlags: flags})
}

// Scroll sends delta wheel notches; positive scrolls away from the user.
func (s *sendInputInjector) Scroll(delta int) error {
	if delta == 0 {
		return nil
	}
	return sendMouse(win.MOUSEINPUT{
		DwFlags:   win.MOUSEEVENTF_WHEEL,
		MouseData: uint32(int32(delta * wheelDelta)),
	})
}

func (s *sendInputInjector) KeyToggle(vk uint16, down, extended bool) error {
	scan, _, _ := procMapVirtualKeyW.Call(uintptr(vk), mapvkVKToVSC)

	var flags uint32
	if extended {
		flags |= win.KEYEVENTF_EXTENDEDKEY
	}
	if !down {
		flags |= win.KEYEVENTF_KEYUP
	}

	input := win.KEYBD_INPUT{
		Type: win.INPUT_KEYBOARD,
		Ki: win.KEYBDINPUT{
			WVk:     vk,
			WScan:   uint16(scan),
			DwFlags: flags,
		},
	}
	if n := win.SendInput(1, unsafe.Pointer(&input), int32(unsafe.Sizeof(input))); n != 1 {
		return fmt.Errorf("SendInput key 0x%02X: %w", vk, windows.GetLastError())
	}
	return nil
}

func (s *sendInputInjector) Close() error {
	return nil
}

func sendMouse(mi win.MOUSEINPUT) error {
	input := win.MOUSE_INPUT{
		Type: win.INPUT_MOUSE,
		Mi:   mi,
	}
	if n := win.SendInput(1, unsafe.Pointer(&input), int32(unsafe.Sizeof(input))); n != 1 {
		return fmt.Errorf("SendInput mouse: %w", windows.GetLastError())
	}
	return nil
}
