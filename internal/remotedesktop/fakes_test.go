package remotedesktop

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var discardLogger = slog.New(slog.DiscardHandler)

type inbound struct {
	messageType int
	data        []byte
	err         error
}

type written struct {
	messageType int
	data        []byte
	at          time.Time
}

// fakeConn is an in-memory Conn. Inbound messages are queued with push;
// outbound messages are recorded with the clock time of the write.
type fakeConn struct {
	clock clockwork.Clock
	inbox chan inbound

	mu          sync.Mutex
	writes      []written
	controls    []int
	deadlines   []time.Time
	pongHandler func(string) error
	writeErr    error

	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeConn(clock clockwork.Clock) *fakeConn {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &fakeConn{
		clock:  clock,
		inbox:  make(chan inbound, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) push(messageType int, data string) {
	c.inbox <- inbound{messageType: messageType, data: []byte(data)}
}

func (c *fakeConn) pushErr(err error) {
	c.inbox <- inbound{err: err}
}

func (c *fakeConn) NextReader() (int, io.Reader, error) {
	select {
	case <-c.closed:
		return 0, nil, fmt.Errorf("read: %w", net.ErrClosed)
	case in := <-c.inbox:
		if in.err != nil {
			return 0, nil, in.err
		}
		return in.messageType, bytes.NewReader(in.data), nil
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("write: %w", net.ErrClosed)
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, written{
		messageType: messageType,
		data:        append([]byte(nil), data...),
		at:          c.clock.Now(),
	})
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	c.deadlines = append(c.deadlines, deadline)
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) sent() []written {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]written(nil), c.writes...)
}

func (c *fakeConn) writesOfType(messageType int) []written {
	var out []written
	for _, w := range c.sent() {
		if w.messageType == messageType {
			out = append(out, w)
		}
	}
	return out
}

func (c *fakeConn) controlDeadlines() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.deadlines...)
}

func (c *fakeConn) controlFrames() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.controls...)
}

// fakeCapture is a CaptureProvider over a fixed monitor layout.
type fakeCapture struct {
	mu         sync.Mutex
	monitors   []Monitor
	index      int
	quality    int
	showCursor bool
	frameErr   error
	panicMsg   string

	captures atomic.Int32
	closes   atomic.Int32
}

func newFakeCapture(monitors ...Monitor) *fakeCapture {
	if len(monitors) == 0 {
		monitors = []Monitor{{Index: 0, Width: 1920, Height: 1080, Name: "Monitor 1", Primary: true}}
	}
	return &fakeCapture{monitors: monitors, quality: DefaultJPEGQuality}
}

func (c *fakeCapture) Quality() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

func (c *fakeCapture) SetQuality(q int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quality = q
}

func (c *fakeCapture) ShowCursor() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showCursor
}

func (c *fakeCapture) SetShowCursor(show bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showCursor = show
}

func (c *fakeCapture) MonitorIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *fakeCapture) SetMonitorIndex(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ValidMonitorIndex(c.monitors, idx) {
		return ErrInvalidMonitor
	}
	c.index = idx
	return nil
}

func (c *fakeCapture) CaptureFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.frameErr != nil {
		return nil, c.frameErr
	}
	n := c.captures.Add(1)
	return []byte{0xFF, 0xD8, byte(n), 0xFF, 0xD9}, nil
}

func (c *fakeCapture) CaptureBounds() CaptureBounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := BoundsForMonitor(c.monitors, c.index)
	if err != nil {
		return CaptureBounds{}
	}
	return b
}

func (c *fakeCapture) Monitors() []Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Monitor(nil), c.monitors...)
}

// setLayout replaces the display layout and selection underneath the
// session, as a provider does when a display is unplugged.
func (c *fakeCapture) setLayout(monitors []Monitor, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitors = monitors
	c.index = index
}

func (c *fakeCapture) Close() error {
	c.closes.Add(1)
	return nil
}

type injected struct {
	kind     string
	x, y     int
	button   MouseButton
	down     bool
	delta    int
	vk       uint16
	extended bool
}

// recordingInjector records every injected event in order.
type recordingInjector struct {
	mu     sync.Mutex
	events []injected
	err    error
	closes atomic.Int32
}

func (r *recordingInjector) record(ev injected) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingInjector) MoveTo(x, y int) error {
	return r.record(injected{kind: "move", x: x, y: y})
}

func (r *recordingInjector) MouseToggle(button MouseButton, down bool) error {
	return r.record(injected{kind: "button", button: button, down: down})
}

func (r *recordingInjector) Scroll(delta int) error {
	return r.record(injected{kind: "scroll", delta: delta})
}

func (r *recordingInjector) KeyToggle(vk uint16, down, extended bool) error {
	return r.record(injected{kind: "key", vk: vk, down: down, extended: extended})
}

func (r *recordingInjector) Close() error {
	r.closes.Add(1)
	return nil
}

func (r *recordingInjector) recorded() []injected {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]injected(nil), r.events...)
}

var errBoom = errors.New("boom")
