package remotedesktop

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
)

// Injector delivers synthetic input to the host operating system.
// Coordinates are absolute desktop pixels.
type Injector interface {
	MoveTo(x, y int) error
	MouseToggle(button MouseButton, down bool) error
	Scroll(delta int) error
	KeyToggle(vk uint16, down, extended bool) error
	Close() error
}

// InputDispatcher maps viewer input onto the host. Viewer coordinates are
// normalized to the current capture rectangle. When disabled every method
// is a no-op that returns nil.
type InputDispatcher struct {
	injector Injector
	logger   *slog.Logger
	enabled  atomic.Bool
	bounds   atomic.Pointer[CaptureBounds]
}

// NewInputDispatcher creates a dispatcher over injector. A nil injector
// yields a dispatcher that can never be enabled.
func NewInputDispatcher(injector Injector, bounds CaptureBounds, enabled bool, logger *slog.Logger) *InputDispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	d := &InputDispatcher{
		injector: injector,
		logger:   logger,
	}
	d.SetBounds(bounds)
	d.SetEnabled(enabled)
	return d
}

// Enabled reports whether input is currently forwarded to the host.
func (d *InputDispatcher) Enabled() bool {
	return d.enabled.Load()
}

// SetEnabled switches injection on or off. It stays off without an injector.
func (d *InputDispatcher) SetEnabled(enabled bool) {
	d.enabled.Store(enabled && d.injector != nil)
}

// Bounds returns the rectangle normalized coordinates are mapped into.
func (d *InputDispatcher) Bounds() CaptureBounds {
	return *d.bounds.Load()
}

// SetBounds replaces the mapping rectangle.
func (d *InputDispatcher) SetBounds(b CaptureBounds) {
	d.bounds.Store(&b)
}

// MapPoint converts normalized coordinates into absolute desktop pixels.
// Inputs are clamped to [0,1] and the result never leaves the rectangle.
func (d *InputDispatcher) MapPoint(nx, ny float64) (int, int) {
	b := d.Bounds()
	return mapAxis(b.X, b.Width, nx), mapAxis(b.Y, b.Height, ny)
}

func mapAxis(origin, size int, n float64) int {
	if math.IsNaN(n) || n < 0 {
		n = 0
	}
	if n > 1 {
		n = 1
	}
	if size <= 0 {
		return origin
	}
	v := origin + int(n*float64(size))
	if v > origin+size-1 {
		v = origin + size - 1
	}
	return v
}

// MoveMouse moves the cursor to the normalized position.
func (d *InputDispatcher) MoveMouse(nx, ny float64) error {
	if !d.Enabled() {
		return nil
	}
	x, y := d.MapPoint(nx, ny)
	return d.injector.MoveTo(x, y)
}

// MouseButton moves to the position and presses or releases button.
// Unknown button names inject nothing, not even the move.
func (d *InputDispatcher) MouseButton(nx, ny float64, button string, down bool) error {
	if !d.Enabled() {
		return nil
	}

	btn, ok := ParseMouseButton(button)
	if !ok {
		d.logger.Debug("ignoring unknown mouse button", "button", button)
		return nil
	}

	x, y := d.MapPoint(nx, ny)
	if err := d.injector.MoveTo(x, y); err != nil {
		return err
	}
	return d.injector.MouseToggle(btn, down)
}

// MouseScroll moves to the position and sends a wheel event.
// Positive delta scrolls up.
func (d *InputDispatcher) MouseScroll(nx, ny float64, delta int) error {
	if !d.Enabled() {
		return nil
	}

	x, y := d.MapPoint(nx, ny)
	if err := d.injector.MoveTo(x, y); err != nil {
		return err
	}
	return d.injector.Scroll(delta)
}

// KeyDown presses the virtual key code.
func (d *InputDispatcher) KeyDown(code int) error {
	return d.key(code, true)
}

// KeyUp releases the virtual key code.
func (d *InputDispatcher) KeyUp(code int) error {
	return d.key(code, false)
}

func (d *InputDispatcher) key(code int, down bool) error {
	if !d.Enabled() {
		return nil
	}
	if !ValidKeyCode(code) {
		return fmt.Errorf("%w: %d", ErrInvalidKeyCode, code)
	}
	vk := uint16(code)
	return d.injector.KeyToggle(vk, down, IsExtendedKey(vk))
}

// ctrlAltDelSequence is the legacy three-key shortcut. The OS treats it as
// ordinary key input, not as the secure attention sequence.
var ctrlAltDelSequence = []struct {
	vk   uint16
	down bool
}{
	{VKLControl, true},
	{VKLMenu, true},
	{VKDelete, true},
	{VKDelete, false},
	{VKLMenu, false},
	{VKLControl, false},
}

// SendCtrlAltDel injects Ctrl, Alt and Delete presses followed by their
// releases in reverse order. Every step is attempted; the first error is returned.
func (d *InputDispatcher) SendCtrlAltDel() error {
	if !d.Enabled() {
		return nil
	}

	var firstErr error
	for _, step := range ctrlAltDelSequence {
		if err := d.injector.KeyToggle(step.vk, step.down, IsExtendedKey(step.vk)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases the injector.
func (d *InputDispatcher) Close() error {
	d.enabled.Store(false)
	if d.injector == nil {
		return nil
	}
	return d.injector.Close()
}
