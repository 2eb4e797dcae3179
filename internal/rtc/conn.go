// Package rtc carries remote desktop sessions over a WebRTC data channel.
package rtc

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/slimrmm/deskstream/internal/remotedesktop"
)

// DefaultMaxBuffered is the send buffer size above which frames are dropped.
const DefaultMaxBuffered = 4 << 20

// dataChannel is the subset of *webrtc.DataChannel the conn writes through.
type dataChannel interface {
	Send(data []byte) error
	SendText(s string) error
	BufferedAmount() uint64
	Close() error
}

// DataChannelConn adapts a data channel to remotedesktop.Conn. String
// messages map to text messages and binary to binary; the channel closing
// maps to a normal close frame.
type DataChannelConn struct {
	dc          dataChannel
	connected   func() bool
	closePeer   func() error
	maxBuffered uint64

	inbox     chan webrtc.DataChannelMessage
	closed    chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	readDeadline time.Time
	// deadlineMoved is closed and replaced by every SetReadDeadline so a
	// blocked NextReader re-arms its timer.
	deadlineMoved chan struct{}
	pongHandler   func(string) error
}

func newDataChannelConn(dc dataChannel, connected func() bool, closePeer func() error, maxBuffered uint64) *DataChannelConn {
	if maxBuffered == 0 {
		maxBuffered = DefaultMaxBuffered
	}
	return &DataChannelConn{
		dc:          dc,
		connected:   connected,
		closePeer:   closePeer,
		maxBuffered: maxBuffered,
		inbox:       make(chan webrtc.DataChannelMessage, 64),
		closed:      make(chan struct{}),

		deadlineMoved: make(chan struct{}),
	}
}

// deliver queues an inbound message. It blocks while the inbox is full and
// gives up once the conn is closed.
func (c *DataChannelConn) deliver(msg webrtc.DataChannelMessage) {
	select {
	case c.inbox <- msg:
	case <-c.closed:
	}
}

// NextReader waits for the next message. Like a net.Conn deadline, a
// SetReadDeadline call made while it waits applies to the pending read.
func (c *DataChannelConn) NextReader() (int, io.Reader, error) {
	for {
		c.mu.Lock()
		deadline := c.readDeadline
		moved := c.deadlineMoved
		c.mu.Unlock()

		var timer *time.Timer
		var timeout <-chan time.Time
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, nil, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		select {
		case msg := <-c.inbox:
			stopTimer(timer)
			messageType := websocket.BinaryMessage
			if msg.IsString {
				messageType = websocket.TextMessage
			}
			return messageType, bytes.NewReader(msg.Data), nil
		case <-c.closed:
			stopTimer(timer)
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "data channel closed"}
		case <-moved:
			stopTimer(timer)
		case <-timeout:
			// Loop to re-read the deadline; it may have moved as the timer fired.
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// WriteMessage sends one message. A full send buffer drops the message with
// remotedesktop.ErrBackpressure.
func (c *DataChannelConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("data channel: %w", net.ErrClosed)
	default:
	}

	if c.dc.BufferedAmount() > c.maxBuffered {
		return remotedesktop.ErrBackpressure
	}

	switch messageType {
	case websocket.TextMessage:
		return c.dc.SendText(string(data))
	case websocket.BinaryMessage:
		return c.dc.Send(data)
	default:
		return fmt.Errorf("data channel: unsupported message type %d", messageType)
	}
}

// WriteControl closes the channel for close frames. SCTP has its own
// heartbeat, so a ping is answered locally while the peer is connected.
func (c *DataChannelConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	switch messageType {
	case websocket.CloseMessage:
		return c.Close()
	case websocket.PingMessage:
		c.mu.Lock()
		h := c.pongHandler
		c.mu.Unlock()
		if h != nil && c.connected() {
			return h(string(data))
		}
		return nil
	default:
		return nil
	}
}

func (c *DataChannelConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	close(c.deadlineMoved)
	c.deadlineMoved = make(chan struct{})
	return nil
}

// SetWriteDeadline is a no-op: sends are buffered and never block.
func (c *DataChannelConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (c *DataChannelConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

// Close closes the data channel and its peer connection.
func (c *DataChannelConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if cerr := c.dc.Close(); cerr != nil {
			err = cerr
		}
		if c.closePeer != nil {
			if cerr := c.closePeer(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// markClosed records a remote close without closing the peer twice.
func (c *DataChannelConn) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.closePeer != nil {
			_ = c.closePeer()
		}
	})
}
