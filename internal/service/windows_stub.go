//go:build !windows

package service

func newWindowsManager() (Manager, error) {
	return nil, ErrUnsupported
}
