//go:build !cgo && !windows

package platform

// Without cgo there is no portable way to read the pointer position.
func cursorPosition() (int, int, bool) {
	return 0, 0, false
}
