package remotedesktop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	defaultWriteTimeout = 10 * time.Second
	closeGracePeriod    = time.Second
)

// State is a session lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateHandshaking
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SessionConfig holds optional session parameters. Zero values select defaults.
type SessionConfig struct {
	ID           string
	Logger       *slog.Logger
	Clock        clockwork.Clock
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingPeriod   time.Duration

	// OnClosed runs once, after all resources have been released.
	OnClosed func(*Session)
}

// Session runs one viewer connection: a handshake, then a frame producer and
// a control receiver sharing the connection until either stops. It owns its
// capture provider and input dispatcher and releases both exactly once.
type Session struct {
	id           string
	conn         Conn
	capture      CaptureProvider
	dispatcher   *InputDispatcher
	settings     *SessionSettings
	logger       *slog.Logger
	clock        clockwork.Clock
	startedAt    time.Time
	onClosed     func(*Session)
	writeTimeout time.Duration

	producer *FrameProducer
	receiver *ControlReceiver
	stats    Stats

	state     atomic.Int32
	mu        sync.Mutex
	cancel    context.CancelFunc
	err       error
	closeConn sync.Once
	release   sync.Once
	done      chan struct{}
}

type loopResult struct {
	name string
	err  error
}

// NewSession creates a session over conn. Ownership of capture and
// dispatcher passes to the session.
func NewSession(conn Conn, capture CaptureProvider, dispatcher *InputDispatcher, settings *SessionSettings, cfg SessionConfig) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if settings == nil {
		settings = NewSessionSettings(DefaultSettings())
	}

	logger := cfg.Logger.With("session_id", cfg.ID)
	if dispatcher == nil {
		dispatcher = NewInputDispatcher(nil, capture.CaptureBounds(), false, logger)
	}

	s := &Session{
		id:           cfg.ID,
		conn:         conn,
		capture:      capture,
		dispatcher:   dispatcher,
		settings:     settings,
		logger:       logger,
		clock:        cfg.Clock,
		startedAt:    cfg.Clock.Now(),
		onClosed:     cfg.OnClosed,
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	s.producer = newFrameProducer(conn, capture, settings, cfg.Clock, logger, &s.stats, cfg.WriteTimeout, cfg.PingPeriod)
	s.receiver = newControlReceiver(conn, capture, dispatcher, settings, s.producer, cfg.Clock, logger, &s.stats, cfg.ReadTimeout)
	s.producer.syncSelection = s.receiver.syncSelection
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Settings returns a copy of the live session settings.
func (s *Session) Settings() Settings { return s.settings.Snapshot() }

func (s *Session) Stats() StatsSnapshot { return s.stats.Snapshot() }

func (s *Session) InputEnabled() bool { return s.dispatcher.Enabled() }

// Done is closed once the session has released its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(state State) { s.state.Store(int32(state)) }

func (s *Session) casState(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Err returns the error that ended the session, or nil for a normal end.
// It is only meaningful after Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run drives the session to completion. It blocks until both loops have
// stopped and resources are released. Failures and panics are logged and
// recorded for Err, never returned. Calling Run more than once is a no-op.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if !s.casState(StateCreated, StateHandshaking) {
		s.mu.Unlock()
		s.logger.Warn("session already started", "state", s.State().String())
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	defer s.releaseResources()
	defer func() {
		if r := recover(); r != nil {
			s.recordErr(fmt.Errorf("session panic: %v", r))
			s.logger.Error("session panic", "panic", r)
			s.setState(StateDraining)
			s.gracefulClose()
		}
	}()

	s.logger.Info("remote desktop session started")

	if err := s.handshake(); err != nil {
		s.recordErr(err)
		s.logger.Error("session handshake failed", "error", err)
		s.setState(StateDraining)
		s.gracefulClose()
		return
	}

	if !s.casState(StateHandshaking, StateActive) {
		s.gracefulClose()
		return
	}

	stop := context.AfterFunc(ctx, s.gracefulClose)
	defer stop()

	results := make(chan loopResult, 2)
	go s.runLoop(ctx, "producer", s.producer.Run, results)
	go s.runLoop(ctx, "receiver", s.receiver.Run, results)

	pending := 2
	select {
	case res := <-results:
		pending--
		s.finishLoop(ctx, res)
	case <-ctx.Done():
	}

	s.setState(StateDraining)
	cancel()
	s.gracefulClose()

	for ; pending > 0; pending-- {
		s.finishLoop(ctx, <-results)
	}
}

// Close requests the session to stop. It is safe to call at any time and
// from any goroutine, any number of times.
func (s *Session) Close() {
	s.mu.Lock()
	if s.casState(StateCreated, StateDraining) {
		s.mu.Unlock()
		s.gracefulClose()
		s.releaseResources()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Session) handshake() error {
	data, err := marshalScreenInfo(s.capture)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(s.clock.Now().Add(s.writeTimeout)); err != nil {
		return &TransportError{Op: "set write deadline", Err: err}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write screen info", Err: err}
	}
	return nil
}

func (s *Session) runLoop(ctx context.Context, name string, fn func(context.Context) error, out chan<- loopResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session loop panic", "loop", name, "panic", r)
			out <- loopResult{name: name, err: fmt.Errorf("%s panic: %v", name, r)}
		}
	}()
	out <- loopResult{name: name, err: fn(ctx)}
}

func (s *Session) finishLoop(ctx context.Context, res loopResult) {
	if res.err == nil {
		s.logger.Debug("session loop stopped", "loop", res.name)
		return
	}
	if ctx.Err() != nil && s.State() == StateDraining {
		s.logger.Debug("session loop stopped during shutdown", "loop", res.name, "error", res.err)
		return
	}
	s.recordErr(res.err)
	s.logger.Warn("session loop failed", "loop", res.name, "error", res.err)
}

func (s *Session) recordErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// gracefulClose sends a close frame and closes the connection. An already
// closed connection is not an error.
func (s *Session) gracefulClose() {
	s.closeConn.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := s.conn.WriteControl(websocket.CloseMessage, msg, s.clock.Now().Add(closeGracePeriod))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("sending close frame", "error", err)
		}
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("closing connection", "error", err)
		}
	})
}

func (s *Session) releaseResources() {
	s.release.Do(func() {
		if err := s.capture.Close(); err != nil {
			s.logger.Warn("closing screen capture", "error", err)
		}
		if err := s.dispatcher.Close(); err != nil {
			s.logger.Warn("closing input dispatcher", "error", err)
		}

		s.setState(StateClosed)
		close(s.done)

		stats := s.stats.Snapshot()
		s.logger.Info("remote desktop session stopped",
			"frames_sent", stats.FramesSent,
			"frames_dropped", stats.FramesDropped,
			"duration", s.clock.Since(s.startedAt).Round(time.Millisecond),
		)

		if s.onClosed != nil {
			s.onClosed(s)
		}
	})
}
