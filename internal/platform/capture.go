package platform

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/kbinani/screenshot"
	"github.com/slimrmm/deskstream/internal/remotedesktop"
)

// ScreenCapture is a remotedesktop.CaptureProvider over kbinani/screenshot.
type ScreenCapture struct {
	logger *slog.Logger

	mu         sync.Mutex
	monitors   []remotedesktop.Monitor
	index      int
	quality    int
	showCursor bool
	lastSize   int
	closed     bool
}

// NewScreenCapture opens the display and applies the initial settings.
// An invalid monitor index falls back to the primary display.
func NewScreenCapture(settings remotedesktop.Settings, logger *slog.Logger) (*ScreenCapture, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !HasDisplayServer() {
		return nil, fmt.Errorf("%w: no display server", remotedesktop.ErrCaptureUnavailable)
	}
	if !CheckScreenRecordingPermission() {
		return nil, fmt.Errorf("%w: screen recording permission not granted", remotedesktop.ErrCaptureUnavailable)
	}

	sc := &ScreenCapture{
		logger:     logger,
		monitors:   listMonitors(),
		index:      settings.MonitorIndex,
		quality:    remotedesktop.ClampJPEGQuality(settings.JPEGQuality),
		showCursor: settings.ShowCursor,
	}
	if len(sc.monitors) == 0 {
		return nil, fmt.Errorf("%w: no displays found", remotedesktop.ErrCaptureUnavailable)
	}
	if !remotedesktop.ValidMonitorIndex(sc.monitors, sc.index) {
		logger.Warn("configured monitor not found, using primary", "monitor_index", sc.index)
		sc.index = 0
	}

	return sc, nil
}

func listMonitors() []remotedesktop.Monitor {
	n := screenshot.NumActiveDisplays()
	monitors := make([]remotedesktop.Monitor, 0, n)

	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		monitors = append(monitors, remotedesktop.Monitor{
			Index:   i,
			Left:    bounds.Min.X,
			Top:     bounds.Min.Y,
			Width:   bounds.Dx(),
			Height:  bounds.Dy(),
			Name:    fmt.Sprintf("Monitor %d", i+1),
			Primary: i == 0,
		})
	}
	return monitors
}

func (sc *ScreenCapture) Quality() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.quality
}

func (sc *ScreenCapture) SetQuality(q int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.quality = remotedesktop.ClampJPEGQuality(q)
}

func (sc *ScreenCapture) ShowCursor() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.showCursor
}

func (sc *ScreenCapture) SetShowCursor(show bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.showCursor = show
}

func (sc *ScreenCapture) MonitorIndex() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.index
}

// SetMonitorIndex selects a display, or all displays for remotedesktop.AllMonitors.
// The layout is reloaded first so a display plugged in since the last
// capture can be chosen.
func (sc *ScreenCapture) SetMonitorIndex(idx int) error {
	monitors := listMonitors()

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if len(monitors) > 0 {
		sc.monitors = monitors
	}
	if !remotedesktop.ValidMonitorIndex(sc.monitors, idx) {
		return fmt.Errorf("%w: %d", remotedesktop.ErrInvalidMonitor, idx)
	}
	sc.index = idx
	return nil
}

// Monitors returns the current display layout. It does not change the
// selection; a vanished display is handled by CaptureFrame.
func (sc *ScreenCapture) Monitors() []remotedesktop.Monitor {
	if monitors := listMonitors(); len(monitors) > 0 {
		return monitors
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]remotedesktop.Monitor(nil), sc.monitors...)
}

// refresh reloads the display layout after a failed capture. When the
// selected display is gone the selection falls back to the primary one.
func (sc *ScreenCapture) refresh() {
	monitors := listMonitors()
	if len(monitors) == 0 {
		return
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.monitors = monitors
	if !remotedesktop.ValidMonitorIndex(monitors, sc.index) {
		sc.logger.Warn("selected monitor disappeared, using primary", "monitor_index", sc.index)
		sc.index = 0
	}
}

func (sc *ScreenCapture) CaptureBounds() remotedesktop.CaptureBounds {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	b, err := remotedesktop.BoundsForMonitor(sc.monitors, sc.index)
	if err != nil {
		return remotedesktop.CaptureBounds{}
	}
	return b
}

// CaptureFrame grabs the selected display(s) and encodes them as JPEG.
func (sc *ScreenCapture) CaptureFrame() ([]byte, error) {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil, remotedesktop.ErrCaptureUnavailable
	}
	monitors := sc.monitors
	index := sc.index
	quality := sc.quality
	showCursor := sc.showCursor
	sizeHint := sc.lastSize
	sc.mu.Unlock()

	bounds, err := remotedesktop.BoundsForMonitor(monitors, index)
	if err != nil {
		sc.refresh()
		return nil, err
	}

	var img *image.RGBA
	if index == remotedesktop.AllMonitors {
		img, err = captureAll(monitors, bounds)
	} else {
		img, err = screenshot.CaptureRect(image.Rect(bounds.X, bounds.Y, bounds.X+bounds.Width, bounds.Y+bounds.Height))
	}
	if err != nil {
		sc.refresh()
		return nil, fmt.Errorf("capturing screen: %w", err)
	}

	if showCursor {
		if x, y, ok := cursorPosition(); ok {
			drawCursor(img, x-bounds.X, y-bounds.Y)
		}
	}

	var buf bytes.Buffer
	buf.Grow(sizeHint)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	sc.mu.Lock()
	sc.lastSize = buf.Len()
	sc.mu.Unlock()

	return buf.Bytes(), nil
}

// captureAll composites every display into one image covering bounds.
// Displays that fail to capture are left black.
func captureAll(monitors []remotedesktop.Monitor, bounds remotedesktop.CaptureBounds) (*image.RGBA, error) {
	combined := image.NewRGBA(image.Rect(0, 0, bounds.Width, bounds.Height))

	captured := 0
	for _, m := range monitors {
		rect := image.Rect(m.Left, m.Top, m.Left+m.Width, m.Top+m.Height)
		img, err := screenshot.CaptureRect(rect)
		if err != nil {
			continue
		}
		dst := rect.Sub(image.Pt(bounds.X, bounds.Y))
		draw.Draw(combined, dst, img, img.Bounds().Min, draw.Src)
		captured++
	}

	if captured == 0 {
		return nil, fmt.Errorf("no display could be captured")
	}
	return combined, nil
}

func (sc *ScreenCapture) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.closed = true
	return nil
}
