package remotedesktop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// FrameInterval returns the minimum spacing between frames at fps. It is
// rounded up so that no one-second window holds more than fps frames.
func FrameInterval(fps int) time.Duration {
	fps = ClampFPS(fps)
	return (time.Second + time.Duration(fps) - 1) / time.Duration(fps)
}

// FrameProducer captures frames and writes them to the viewer as binary
// messages, paced by the session's MaxFPS. It is the only data writer on
// its connection.
type FrameProducer struct {
	conn         Conn
	capture      CaptureProvider
	settings     *SessionSettings
	clock        clockwork.Clock
	logger       *slog.Logger
	stats        *Stats
	writeTimeout time.Duration
	pingPeriod   time.Duration

	// syncSelection, when set, runs after every capture so a monitor
	// selection the capture changed reaches settings and input mapping
	// before the frame is sent.
	syncSelection func() bool

	resendInfo atomic.Bool
	lastPing   time.Time
	errLog     rate.Sometimes
}

func newFrameProducer(conn Conn, capture CaptureProvider, settings *SessionSettings, clock clockwork.Clock, logger *slog.Logger, stats *Stats, writeTimeout, pingPeriod time.Duration) *FrameProducer {
	return &FrameProducer{
		conn:         conn,
		capture:      capture,
		settings:     settings,
		clock:        clock,
		logger:       logger,
		stats:        stats,
		writeTimeout: writeTimeout,
		pingPeriod:   pingPeriod,
		errLog:       rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// RequestScreenInfo makes the producer send a fresh screen info message
// before its next frame.
func (p *FrameProducer) RequestScreenInfo() {
	p.resendInfo.Store(true)
}

// Run streams frames until ctx is cancelled or the connection fails.
// Capture failures and dropped sends skip one frame; any other write
// failure is returned.
func (p *FrameProducer) Run(ctx context.Context) error {
	p.lastPing = p.clock.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := p.clock.Now()
		if err := p.iterate(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		wait := FrameInterval(p.settings.MaxFPS()) - p.clock.Since(start)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.clock.After(wait):
		}
	}
}

// iterate performs one producer step and returns only terminal errors.
func (p *FrameProducer) iterate() error {
	if err := p.maybePing(); err != nil {
		return err
	}

	frame, captureErr := p.capture.CaptureFrame()
	if p.syncSelection != nil {
		p.syncSelection()
	}

	if p.resendInfo.CompareAndSwap(true, false) {
		if err := p.sendScreenInfo(); err != nil {
			if IsTerminal(err) {
				return err
			}
			p.resendInfo.Store(true)
		}
	}

	if captureErr != nil {
		p.stats.framesDropped.Add(1)
		p.errLog.Do(func() {
			p.logger.Warn("capturing frame", "error", captureErr)
		})
		return nil
	}

	if err := p.write(websocket.BinaryMessage, frame); err != nil {
		if IsTerminal(err) {
			return err
		}
		p.stats.framesDropped.Add(1)
		p.errLog.Do(func() {
			p.logger.Debug("frame dropped", "error", err)
		})
		return nil
	}

	sent := p.stats.framesSent.Add(1)
	p.stats.bytesSent.Add(uint64(len(frame)))
	if sent <= 3 || sent%500 == 0 {
		p.logger.Debug("frame sent", "frame", sent, "size", len(frame))
	}
	return nil
}

func (p *FrameProducer) maybePing() error {
	if p.pingPeriod <= 0 || p.clock.Since(p.lastPing) < p.pingPeriod {
		return nil
	}
	p.lastPing = p.clock.Now()

	if err := p.conn.WriteControl(websocket.PingMessage, nil, p.deadline()); err != nil {
		return &TransportError{Op: "write ping", Err: err}
	}
	return nil
}

func (p *FrameProducer) sendScreenInfo() error {
	data, err := marshalScreenInfo(p.capture)
	if err != nil {
		return err
	}
	if err := p.write(websocket.TextMessage, data); err != nil {
		return err
	}
	p.logger.Debug("screen info sent", "size", len(data))
	return nil
}

func (p *FrameProducer) write(messageType int, data []byte) error {
	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(p.deadline()); err != nil {
			return &TransportError{Op: "set write deadline", Err: err}
		}
	}
	if err := p.conn.WriteMessage(messageType, data); err != nil {
		return &TransportError{Op: "write message", Err: err}
	}
	return nil
}

func (p *FrameProducer) deadline() time.Time {
	if p.writeTimeout <= 0 {
		return time.Time{}
	}
	return p.clock.Now().Add(p.writeTimeout)
}

// marshalScreenInfo builds the screen info message for the capture's
// current selection.
func marshalScreenInfo(capture CaptureProvider) ([]byte, error) {
	bounds := capture.CaptureBounds()
	monitors := capture.Monitors()
	if monitors == nil {
		monitors = []Monitor{}
	}

	data, err := json.Marshal(ScreenInfoMessage{
		Width:    bounds.Width,
		Height:   bounds.Height,
		Monitors: monitors,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling screen info: %w", err)
	}
	return data, nil
}
