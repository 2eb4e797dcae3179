package remotedesktop

import (
	"io"
	"time"
)

// Conn is the message-oriented duplex connection a session runs on.
// *websocket.Conn satisfies it. Message types are the gorilla/websocket
// constants.
//
// At most one goroutine calls NextReader and at most one calls WriteMessage.
// WriteControl and Close may be called concurrently with both.
type Conn interface {
	NextReader() (messageType int, r io.Reader, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}
