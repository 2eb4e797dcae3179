package remotedesktop

// CaptureProvider produces encoded frames of the host desktop. A provider is
// owned by exactly one session and closed when that session ends.
//
// CaptureFrame may block for the duration of one capture and encode. The
// setters are called from the control receiver while CaptureFrame runs on
// the frame producer, so implementations must tolerate that overlap.
//
// When the selected display disappears, CaptureFrame may move the selection
// to another display. The session notices through MonitorIndex and
// CaptureBounds and follows it. Monitors reports the current layout and
// never changes the selection.
type CaptureProvider interface {
	Quality() int
	SetQuality(q int)
	ShowCursor() bool
	SetShowCursor(show bool)
	MonitorIndex() int
	SetMonitorIndex(idx int) error

	// CaptureFrame returns one complete JPEG image of the active monitor selection.
	CaptureFrame() ([]byte, error)

	// CaptureBounds returns the absolute rectangle CaptureFrame covers.
	CaptureBounds() CaptureBounds

	Monitors() []Monitor
	Close() error
}

// BoundsForMonitor returns the rectangle covered by idx, where AllMonitors
// yields the union of all displays.
func BoundsForMonitor(monitors []Monitor, idx int) (CaptureBounds, error) {
	if len(monitors) == 0 {
		return CaptureBounds{}, ErrCaptureUnavailable
	}

	if idx == AllMonitors {
		minX, minY := monitors[0].Left, monitors[0].Top
		maxX, maxY := minX+monitors[0].Width, minY+monitors[0].Height
		for _, m := range monitors[1:] {
			minX = min(minX, m.Left)
			minY = min(minY, m.Top)
			maxX = max(maxX, m.Left+m.Width)
			maxY = max(maxY, m.Top+m.Height)
		}
		return CaptureBounds{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, nil
	}

	if idx < 0 || idx >= len(monitors) {
		return CaptureBounds{}, ErrInvalidMonitor
	}
	m := monitors[idx]
	return CaptureBounds{X: m.Left, Y: m.Top, Width: m.Width, Height: m.Height}, nil
}

// ValidMonitorIndex reports whether idx selects something in monitors.
func ValidMonitorIndex(monitors []Monitor, idx int) bool {
	if idx == AllMonitors {
		return len(monitors) > 0
	}
	return idx >= 0 && idx < len(monitors)
}
