// Package platform binds the session engine to the host: screen capture
// through kbinani/screenshot and input injection through SendInput on
// Windows or robotgo elsewhere.
package platform

import (
	"os"
	"runtime"
)

// HasDisplayServer checks if a graphical session is reachable.
func HasDisplayServer() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux", "freebsd", "openbsd", "netbsd":
		return os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("DISPLAY") != ""
	default:
		return false
	}
}

// CheckDependencies reports which remote desktop features the host supports.
func CheckDependencies() map[string]bool {
	display := HasDisplayServer()
	screenRecording := CheckScreenRecordingPermission()
	accessibility := CheckAccessibilityPermission()

	capture := display && screenRecording
	input := display && accessibility && inputBackend != ""

	return map[string]bool{
		"display_server":        display,
		"screen_capture":        capture,
		"input_control":         input,
		"screen_recording_perm": screenRecording,
		"accessibility_perm":    accessibility,
		"full_control":          capture && input,
	}
}

// InputBackend names the injection mechanism compiled into this binary,
// or returns "" when there is none.
func InputBackend() string {
	return inputBackend
}
