//go:build windows

package platform

import "github.com/lxn/win"

func cursorPosition() (int, int, bool) {
	var pt win.POINT
	if !win.GetCursorPos(&pt) {
		return 0, 0, false
	}
	return int(pt.X), int(pt.Y), true
}
