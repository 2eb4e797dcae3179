// Package remotedesktop implements the host side of a remote desktop session:
// a paced JPEG frame stream out, a JSON control channel in, and the input
// dispatcher that turns viewer coordinates into host pointer and key events.
package remotedesktop

import "fmt"

// Monitor represents display information.
type Monitor struct {
	Index   int    `json:"index"`
	Left    int    `json:"left"`
	Top     int    `json:"top"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Name    string `json:"name"`
	Primary bool   `json:"primary"`
}

// CaptureBounds is the absolute desktop rectangle covered by the current
// capture. X and Y may be negative on multi-monitor layouts.
type CaptureBounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (b CaptureBounds) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// ScreenInfoMessage is the text message sent to the viewer after the
// handshake and again whenever the captured monitor changes.
type ScreenInfoMessage struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Monitors []Monitor `json:"monitors"`
}

// MouseButton represents mouse button types.
type MouseButton int

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonMiddle
	MouseButtonRight
)

func (b MouseButton) String() string {
	switch b {
	case MouseButtonLeft:
		return "left"
	case MouseButtonMiddle:
		return "middle"
	case MouseButtonRight:
		return "right"
	default:
		return fmt.Sprintf("MouseButton(%d)", int(b))
	}
}

// ParseMouseButton maps a wire button name to a MouseButton.
func ParseMouseButton(name string) (MouseButton, bool) {
	switch name {
	case "left":
		return MouseButtonLeft, true
	case "middle":
		return MouseButtonMiddle, true
	case "right":
		return MouseButtonRight, true
	default:
		return 0, false
	}
}
