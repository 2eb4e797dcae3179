package remotedesktop

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// screenInfoRequester is notified after the captured monitor changes.
type screenInfoRequester interface {
	RequestScreenInfo()
}

// ControlReceiver reads control messages from the viewer and applies them.
type ControlReceiver struct {
	conn        Conn
	capture     CaptureProvider
	dispatcher  *InputDispatcher
	settings    *SessionSettings
	screenInfo  screenInfoRequester
	clock       clockwork.Clock
	logger      *slog.Logger
	stats       *Stats
	readTimeout time.Duration

	// selMu orders monitor switches against syncSelection.
	selMu sync.Mutex

	buf    bytes.Buffer
	errLog rate.Sometimes
}

func newControlReceiver(conn Conn, capture CaptureProvider, dispatcher *InputDispatcher, settings *SessionSettings, screenInfo screenInfoRequester, clock clockwork.Clock, logger *slog.Logger, stats *Stats, readTimeout time.Duration) *ControlReceiver {
	return &ControlReceiver{
		conn:        conn,
		capture:     capture,
		dispatcher:  dispatcher,
		settings:    settings,
		screenInfo:  screenInfo,
		clock:       clock,
		logger:      logger,
		stats:       stats,
		readTimeout: readTimeout,
		errLog:      rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// Run reads messages until ctx is cancelled, the peer closes, or the
// connection fails. A peer close is a normal exit and returns nil.
func (r *ControlReceiver) Run(ctx context.Context) error {
	if err := r.extendDeadline(); err != nil {
		return err
	}
	r.conn.SetPongHandler(func(string) error {
		return r.extendDeadline()
	})

	for {
		if ctx.Err() != nil {
			return nil
		}

		messageType, reader, err := r.conn.NextReader()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
				r.logger.Debug("viewer closed connection", "code", closeErr.Code)
				return nil
			}
			return &TransportError{Op: "read message", Err: err}
		}

		if err := r.extendDeadline(); err != nil {
			return err
		}

		if messageType != websocket.TextMessage {
			continue
		}

		r.buf.Reset()
		if _, err := r.buf.ReadFrom(reader); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &TransportError{Op: "read message", Err: err}
		}

		r.handle(r.buf.Bytes())
	}
}

func (r *ControlReceiver) extendDeadline() error {
	if r.readTimeout <= 0 {
		return nil
	}
	if err := r.conn.SetReadDeadline(r.clock.Now().Add(r.readTimeout)); err != nil {
		return &TransportError{Op: "set read deadline", Err: err}
	}
	return nil
}

// handle decodes and applies one text message. Failures are logged only.
func (r *ControlReceiver) handle(data []byte) {
	msg, err := DecodeControlMessage(data)
	if err != nil {
		r.stats.decodeErrors.Add(1)
		r.errLog.Do(func() {
			r.logger.Warn("decoding control message", "error", err)
		})
		return
	}

	r.stats.messagesHandled.Add(1)
	if err := r.dispatch(msg); err != nil {
		r.errLog.Do(func() {
			r.logger.Warn("applying control message", "error", err)
		})
	}
}

func (r *ControlReceiver) dispatch(msg ControlMessage) error {
	switch m := msg.(type) {
	case MouseMoveMessage:
		return r.dispatcher.MoveMouse(m.X, m.Y)
	case MouseButtonMessage:
		return r.dispatcher.MouseButton(m.X, m.Y, m.Button, m.Down)
	case MouseScrollMessage:
		return r.dispatcher.MouseScroll(m.X, m.Y, m.Delta)
	case KeyDownMessage:
		return r.dispatcher.KeyDown(m.KeyCode)
	case KeyUpMessage:
		return r.dispatcher.KeyUp(m.KeyCode)
	case QualityChangeMessage:
		r.applyQuality(m)
		return nil
	case CtrlAltDelMessage:
		r.logger.Info("sending ctrl+alt+del")
		return r.dispatcher.SendCtrlAltDel()
	case UnrecognizedMessage:
		r.logger.Debug("ignoring unknown control message", "type", m.Type)
		return nil
	default:
		return nil
	}
}

func (r *ControlReceiver) applyQuality(m QualityChangeMessage) {
	if m.JPEGQuality != nil {
		q := r.settings.SetJPEGQuality(*m.JPEGQuality)
		r.capture.SetQuality(q)
	}
	if m.MaxFPS != nil {
		r.settings.SetMaxFPS(*m.MaxFPS)
	}
	if m.MonitorIndex != nil {
		r.switchMonitor(*m.MonitorIndex)
	}

	r.logger.Info("quality changed",
		"jpeg_quality", r.settings.JPEGQuality(),
		"max_fps", r.settings.MaxFPS(),
		"monitor_index", r.settings.MonitorIndex(),
	)
}

// switchMonitor changes the captured monitor and moves the input mapping
// with it before any further pointer message is handled.
func (r *ControlReceiver) switchMonitor(idx int) {
	r.selMu.Lock()
	defer r.selMu.Unlock()

	r.syncSelectionLocked()
	if idx == r.settings.MonitorIndex() {
		return
	}

	if !ValidMonitorIndex(r.capture.Monitors(), idx) {
		r.logger.Warn("invalid monitor index", "monitor_index", idx)
		return
	}

	if err := r.capture.SetMonitorIndex(idx); err != nil {
		r.logger.Warn("switching monitor", "monitor_index", idx, "error", err)
		return
	}

	r.settings.SetMonitorIndex(idx)
	r.dispatcher.SetBounds(r.capture.CaptureBounds())
	r.screenInfo.RequestScreenInfo()
}

// syncSelection follows a monitor selection or layout the capture changed
// on its own, such as a fallback after the selected display was unplugged.
// It reports whether anything changed.
func (r *ControlReceiver) syncSelection() bool {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	return r.syncSelectionLocked()
}

func (r *ControlReceiver) syncSelectionLocked() bool {
	idx := r.capture.MonitorIndex()
	prev := r.settings.MonitorIndex()
	// An empty rectangle means the layout is unknown; the last mapping stays.
	bounds := r.capture.CaptureBounds()
	moved := !bounds.Empty() && bounds != r.dispatcher.Bounds()
	if idx == prev && !moved {
		return false
	}

	if idx != prev {
		r.logger.Warn("captured monitor changed", "from", prev, "to", idx)
		r.settings.SetMonitorIndex(idx)
	}
	if moved {
		r.dispatcher.SetBounds(bounds)
	}
	r.screenInfo.RequestScreenInfo()
	return true
}
