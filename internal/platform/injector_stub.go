//go:build !cgo && !windows

package platform

import (
	"fmt"
	"log/slog"

	"github.com/slimrmm/deskstream/internal/remotedesktop"
)

const inputBackend = ""

// NewInjector always fails: robotgo needs cgo.
func NewInjector(logger *slog.Logger) (remotedesktop.Injector, error) {
	return nil, fmt.Errorf("%w: built without cgo", remotedesktop.ErrInputUnavailable)
}
