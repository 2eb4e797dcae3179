//go:build darwin && cgo

package platform

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework CoreGraphics -framework ApplicationServices -framework Foundation

#include <CoreGraphics/CoreGraphics.h>
#include <ApplicationServices/ApplicationServices.h>
#import <Foundation/Foundation.h>

static int preflightScreenCapture(void) {
    if (@available(macOS 10.15, *)) {
        return CGPreflightScreenCaptureAccess() ? 1 : 0;
    }
    return 1;
}

static int requestScreenCapture(void) {
    if (@available(macOS 10.15, *)) {
        return CGRequestScreenCaptureAccess() ? 1 : 0;
    }
    return 1;
}

static int accessibilityTrusted(int prompt) {
    if (!prompt) {
        return AXIsProcessTrusted() ? 1 : 0;
    }
    NSDictionary *options = @{(__bridge NSString *)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import "log/slog"

// CheckScreenRecordingPermission reports whether screen capture is allowed
// without showing the system dialog.
func CheckScreenRecordingPermission() bool {
	return C.preflightScreenCapture() == 1
}

// CheckAccessibilityPermission reports whether input injection is allowed.
func CheckAccessibilityPermission() bool {
	return C.accessibilityTrusted(0) == 1
}

// RequestPermissions asks for the screen recording and accessibility
// grants the host needs. Call it once at startup.
func RequestPermissions(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	if CheckScreenRecordingPermission() {
		logger.Info("screen recording permission already granted")
	} else if C.requestScreenCapture() == 1 {
		logger.Info("screen recording permission granted")
	} else {
		logger.Warn("screen recording permission denied, remote desktop will not work")
	}

	if CheckAccessibilityPermission() {
		logger.Info("accessibility permission already granted")
	} else if C.accessibilityTrusted(1) == 1 {
		logger.Info("accessibility permission granted")
	} else {
		logger.Warn("accessibility permission denied, sessions will be view-only")
	}
}
