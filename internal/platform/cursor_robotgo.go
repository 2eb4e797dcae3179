//go:build cgo && !windows

package platform

import "github.com/go-vgo/robotgo"

func cursorPosition() (int, int, bool) {
	x, y := robotgo.Location()
	return x, y, true
}
