package remotedesktop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

type producerHarness struct {
	clock    clockwork.FakeClock
	conn     *fakeConn
	capture  *fakeCapture
	settings *SessionSettings
	stats    *Stats
	producer *FrameProducer
}

func newProducerHarness(fps int) *producerHarness {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(clock)
	capture := newFakeCapture()
	settings := NewSessionSettings(Settings{JPEGQuality: 80, MaxFPS: fps})
	stats := &Stats{}
	return &producerHarness{
		clock:    clock,
		conn:     conn,
		capture:  capture,
		settings: settings,
		stats:    stats,
		producer: newFrameProducer(conn, capture, settings, clock, discardLogger, stats, time.Second, 0),
	}
}

// run starts the producer and advances the fake clock in step increments
// until total has elapsed, then cancels it.
func (h *producerHarness) run(t *testing.T, total, step time.Duration, during func(elapsed time.Duration)) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.producer.Run(ctx) }()

	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		h.clock.BlockUntil(1)
		if during != nil {
			during(elapsed)
		}
		h.clock.Advance(step)
	}

	h.clock.BlockUntil(1)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

// maxFramesInWindow returns the largest number of frames sent within any
// half-open one-second window.
func maxFramesInWindow(frames []written) int {
	best := 0
	for i := range frames {
		end := frames[i].at.Add(time.Second)
		n := 0
		for j := i; j < len(frames) && frames[j].at.Before(end); j++ {
			n++
		}
		best = max(best, n)
	}
	return best
}

func TestFrameProducerRespectsMaxFPS(t *testing.T) {
	tests := []struct {
		name string
		fps  int
		step time.Duration
	}{
		{"30fps fine steps", 30, time.Millisecond},
		{"10fps aligned steps", 10, 100 * time.Millisecond},
		{"60fps fine steps", 60, time.Millisecond},
		{"1fps", 1, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newProducerHarness(tt.fps)
			h.run(t, 3*time.Second, tt.step, nil)

			frames := h.conn.writesOfType(websocket.BinaryMessage)
			if len(frames) == 0 {
				t.Fatal("no frames sent")
			}
			if got := maxFramesInWindow(frames); got > tt.fps {
				t.Errorf("max frames in 1s window = %d, want <= %d", got, tt.fps)
			}
			if got := h.stats.Snapshot().FramesSent; got != uint64(len(frames)) {
				t.Errorf("FramesSent = %d, want %d", got, len(frames))
			}
		})
	}
}

func TestFrameProducerAppliesFPSChange(t *testing.T) {
	h := newProducerHarness(60)

	h.run(t, 4*time.Second, time.Millisecond, func(elapsed time.Duration) {
		if elapsed == 2*time.Second {
			h.settings.SetMaxFPS(5)
		}
	})

	start := h.clock.Now().Add(-4 * time.Second)
	var late []written
	for _, f := range h.conn.writesOfType(websocket.BinaryMessage) {
		if !f.at.Before(start.Add(2*time.Second + 100*time.Millisecond)) {
			late = append(late, f)
		}
	}
	if got := maxFramesInWindow(late); got > 5 {
		t.Errorf("frames per second after change = %d, want <= 5", got)
	}
	if len(late) == 0 {
		t.Error("no frames after fps change")
	}
}

func TestFrameProducerSkipsCaptureErrors(t *testing.T) {
	h := newProducerHarness(10)
	h.capture.frameErr = errBoom

	h.run(t, time.Second, 100*time.Millisecond, nil)

	if n := len(h.conn.writesOfType(websocket.BinaryMessage)); n != 0 {
		t.Errorf("frames sent = %d, want 0", n)
	}
	if got := h.stats.Snapshot().FramesDropped; got == 0 {
		t.Error("FramesDropped = 0, want > 0")
	}
}

func TestFrameProducerSkipsBackpressure(t *testing.T) {
	h := newProducerHarness(10)
	h.conn.setWriteErr(ErrBackpressure)

	h.run(t, time.Second, 100*time.Millisecond, nil)

	if got := h.stats.Snapshot().FramesDropped; got < 5 {
		t.Errorf("FramesDropped = %d, want >= 5", got)
	}
}

func TestFrameProducerStopsOnTransportError(t *testing.T) {
	h := newProducerHarness(10)
	h.conn.setWriteErr(errBoom)

	err := h.producer.Run(context.Background())

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Run() error = %v, want *TransportError", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("Run() error = %v, want wrapping %v", err, errBoom)
	}
}

func TestFrameProducerResendsScreenInfo(t *testing.T) {
	h := newProducerHarness(10)
	h.producer.RequestScreenInfo()

	h.run(t, 300*time.Millisecond, 100*time.Millisecond, nil)

	writes := h.conn.sent()
	if len(writes) < 2 {
		t.Fatalf("len(writes) = %d, want >= 2", len(writes))
	}
	if writes[0].messageType != websocket.TextMessage {
		t.Errorf("first write type = %d, want text", writes[0].messageType)
	}
	if n := len(h.conn.writesOfType(websocket.TextMessage)); n != 1 {
		t.Errorf("screen info messages = %d, want 1", n)
	}
}

func TestFrameProducerFollowsVanishedMonitor(t *testing.T) {
	dual := []Monitor{
		{Index: 0, Left: 0, Top: 0, Width: 1920, Height: 1080, Primary: true},
		{Index: 1, Left: 1920, Top: 0, Width: 1280, Height: 1024},
	}
	h := newProducerHarness(10)
	h.capture.setLayout(dual, 1)
	h.settings.SetMonitorIndex(1)

	b, _ := BoundsForMonitor(dual, 1)
	dispatcher := NewInputDispatcher(&recordingInjector{}, b, true, discardLogger)
	receiver := newControlReceiver(h.conn, h.capture, dispatcher, h.settings, h.producer, h.clock, discardLogger, h.stats, time.Minute)
	h.producer.syncSelection = receiver.syncSelection

	h.run(t, time.Second, 100*time.Millisecond, func(elapsed time.Duration) {
		if elapsed == 300*time.Millisecond {
			h.capture.setLayout(dual[:1], 0)
		}
	})

	if got := h.settings.MonitorIndex(); got != 0 {
		t.Errorf("MonitorIndex = %d, want 0", got)
	}
	want := CaptureBounds{X: 0, Y: 0, Width: 1920, Height: 1080}
	if got := dispatcher.Bounds(); got != want {
		t.Errorf("Bounds = %+v, want %+v", got, want)
	}

	writes := h.conn.sent()
	infoAt := -1
	for i, w := range writes {
		if w.messageType == websocket.TextMessage {
			if infoAt >= 0 {
				t.Fatalf("screen info sent twice, at %d and %d", infoAt, i)
			}
			infoAt = i
		}
	}
	if infoAt <= 0 || infoAt == len(writes)-1 {
		t.Fatalf("screen info at %d of %d writes, want between frames", infoAt, len(writes))
	}

	var info ScreenInfoMessage
	if err := json.Unmarshal(writes[infoAt].data, &info); err != nil {
		t.Fatalf("decoding screen info: %v", err)
	}
	if info.Width != 1920 || info.Height != 1080 || len(info.Monitors) != 1 {
		t.Errorf("screen info = %+v, want the remaining 1920x1080 display", info)
	}
}

func TestFrameProducerPings(t *testing.T) {
	h := newProducerHarness(10)
	h.producer.pingPeriod = 250 * time.Millisecond

	h.run(t, time.Second, 100*time.Millisecond, nil)

	pings := 0
	for _, c := range h.conn.controlFrames() {
		if c == websocket.PingMessage {
			pings++
		}
	}
	if pings < 2 {
		t.Errorf("pings = %d, want >= 2", pings)
	}
}
