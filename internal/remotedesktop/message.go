package remotedesktop

import (
	"encoding/json"
	"errors"
)

// Control message types sent by the viewer.
const (
	TypeMouseMove   = "mouse_move"
	TypeMouseDown   = "mouse_down"
	TypeMouseUp     = "mouse_up"
	TypeMouseScroll = "mouse_scroll"
	TypeKeyDown     = "key_down"
	TypeKeyUp       = "key_up"
	TypeQuality     = "quality"
	TypeCtrlAltDel  = "ctrl_alt_del"
)

// ControlMessage is one decoded inbound control message. The concrete type
// is one of the *Message types in this file.
type ControlMessage interface {
	controlMessage()
}

// MouseMoveMessage moves the cursor to a normalized position.
type MouseMoveMessage struct {
	X, Y float64
}

// MouseButtonMessage presses (Down) or releases a button at a normalized position.
type MouseButtonMessage struct {
	X, Y   float64
	Button string
	Down   bool
}

// MouseScrollMessage scrolls the wheel at a normalized position.
type MouseScrollMessage struct {
	X, Y  float64
	Delta int
}

// KeyDownMessage presses a virtual key.
type KeyDownMessage struct {
	KeyCode int
}

// KeyUpMessage releases a virtual key.
type KeyUpMessage struct {
	KeyCode int
}

// QualityChangeMessage updates session settings. Nil fields are left unchanged.
type QualityChangeMessage struct {
	JPEGQuality  *int
	MaxFPS       *int
	MonitorIndex *int
}

// CtrlAltDelMessage requests the Ctrl+Alt+Delete key sequence.
type CtrlAltDelMessage struct{}

// UnrecognizedMessage carries a type this host does not know.
type UnrecognizedMessage struct {
	Type string
}

func (MouseMoveMessage) controlMessage()     {}
func (MouseButtonMessage) controlMessage()   {}
func (MouseScrollMessage) controlMessage()   {}
func (KeyDownMessage) controlMessage()       {}
func (KeyUpMessage) controlMessage()         {}
func (QualityChangeMessage) controlMessage() {}
func (CtrlAltDelMessage) controlMessage()    {}
func (UnrecognizedMessage) controlMessage()  {}

type envelope struct {
	Type *string `json:"type"`
}

type pointerBody struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Button *string  `json:"button"`
	Delta  *int     `json:"delta"`
}

type keyBody struct {
	KeyCode *int `json:"keyCode"`
}

type qualityBody struct {
	JPEGQuality  *int `json:"jpegQuality"`
	MaxFPS       *int `json:"maxFps"`
	MonitorIndex *int `json:"monitorIndex"`
}

// DecodeControlMessage parses one text message from the viewer. Unknown
// types decode to UnrecognizedMessage without error.
func DecodeControlMessage(data []byte) (ControlMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == nil || *env.Type == "" {
		return nil, &DecodeError{Field: "type", Err: ErrMissingType}
	}

	typ := *env.Type
	switch typ {
	case TypeMouseMove:
		p, err := decodeBody[pointerBody](typ, data)
		if err != nil {
			return nil, err
		}
		if err := requirePoint(typ, p); err != nil {
			return nil, err
		}
		return MouseMoveMessage{X: *p.X, Y: *p.Y}, nil

	case TypeMouseDown, TypeMouseUp:
		p, err := decodeBody[pointerBody](typ, data)
		if err != nil {
			return nil, err
		}
		if err := requirePoint(typ, p); err != nil {
			return nil, err
		}
		if p.Button == nil {
			return nil, missing(typ, "button")
		}
		return MouseButtonMessage{X: *p.X, Y: *p.Y, Button: *p.Button, Down: typ == TypeMouseDown}, nil

	case TypeMouseScroll:
		p, err := decodeBody[pointerBody](typ, data)
		if err != nil {
			return nil, err
		}
		if err := requirePoint(typ, p); err != nil {
			return nil, err
		}
		if p.Delta == nil {
			return nil, missing(typ, "delta")
		}
		return MouseScrollMessage{X: *p.X, Y: *p.Y, Delta: *p.Delta}, nil

	case TypeKeyDown, TypeKeyUp:
		k, err := decodeBody[keyBody](typ, data)
		if err != nil {
			return nil, err
		}
		if k.KeyCode == nil {
			return nil, missing(typ, "keyCode")
		}
		if typ == TypeKeyDown {
			return KeyDownMessage{KeyCode: *k.KeyCode}, nil
		}
		return KeyUpMessage{KeyCode: *k.KeyCode}, nil

	case TypeQuality:
		q, err := decodeBody[qualityBody](typ, data)
		if err != nil {
			return nil, err
		}
		return QualityChangeMessage{
			JPEGQuality:  q.JPEGQuality,
			MaxFPS:       q.MaxFPS,
			MonitorIndex: q.MonitorIndex,
		}, nil

	case TypeCtrlAltDel:
		return CtrlAltDelMessage{}, nil

	default:
		return UnrecognizedMessage{Type: typ}, nil
	}
}

func decodeBody[T any](typ string, data []byte) (T, error) {
	var body T
	if err := json.Unmarshal(data, &body); err != nil {
		de := &DecodeError{Type: typ, Err: err}
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			de.Field = ute.Field
		}
		return body, de
	}
	return body, nil
}

func requirePoint(typ string, p pointerBody) error {
	if p.X == nil {
		return missing(typ, "x")
	}
	if p.Y == nil {
		return missing(typ, "y")
	}
	return nil
}

func missing(typ, field string) error {
	return &DecodeError{Type: typ, Field: field, Err: ErrMissingField}
}
