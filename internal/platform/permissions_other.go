//go:build !darwin || !cgo

package platform

import "log/slog"

// CheckScreenRecordingPermission always returns true outside macOS.
func CheckScreenRecordingPermission() bool {
	return true
}

// CheckAccessibilityPermission always returns true outside macOS.
func CheckAccessibilityPermission() bool {
	return true
}

// RequestPermissions is a no-op outside macOS.
func RequestPermissions(logger *slog.Logger) {
	if logger != nil {
		logger.Debug("no special permissions required on this platform")
	}
}
