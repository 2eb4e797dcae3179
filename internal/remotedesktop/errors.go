package remotedesktop

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureUnavailable is returned when no capture backend can be opened.
	ErrCaptureUnavailable = errors.New("screen capture unavailable")

	// ErrInputUnavailable is returned when the host has no input injection backend.
	ErrInputUnavailable = errors.New("input injection unavailable")

	// ErrInvalidMonitor is returned for a monitor index that is neither -1 nor a valid display.
	ErrInvalidMonitor = errors.New("invalid monitor index")

	// ErrInvalidKeyCode is returned for virtual-key codes outside 1-254.
	ErrInvalidKeyCode = errors.New("invalid virtual-key code")

	// ErrMissingType is returned when a control message has no type field.
	ErrMissingType = errors.New("control message missing type")

	// ErrMissingField is returned when a control message lacks a field its type requires.
	ErrMissingField = errors.New("required field missing")

	// ErrBackpressure is returned by a transport that dropped an outbound
	// message because its send buffer is full. It is never terminal.
	ErrBackpressure = errors.New("transport send buffer full")
)

// DecodeError describes a control message that could not be decoded.
type DecodeError struct {
	Type  string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Type == "":
		return fmt.Sprintf("decoding control message: %v", e.Err)
	case e.Field == "":
		return fmt.Sprintf("decoding %s message: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("decoding %s message field %q: %v", e.Type, e.Field, e.Err)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failure reading from or writing to the viewer connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Terminal reports whether the session cannot continue after this error.
func (e *TransportError) Terminal() bool {
	return !errors.Is(e.Err, ErrBackpressure)
}

// IsTerminal reports whether err ends the loop that observed it.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Terminal()
	}
	return !errors.Is(err, ErrBackpressure)
}
