// Package handler serves the host's HTTP surface: the viewer WebSocket,
// WebRTC signalling and the status API. It admits viewers, builds a
// remote desktop session per connection and tracks every live session.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/slimrmm/deskstream/internal/config"
	"github.com/slimrmm/deskstream/internal/monitor"
	"github.com/slimrmm/deskstream/internal/platform"
	"github.com/slimrmm/deskstream/internal/remotedesktop"
	"github.com/slimrmm/deskstream/internal/rtc"
	"github.com/slimrmm/deskstream/internal/security/ratelimit"
)

const (
	sweepInterval    = time.Minute
	handshakeTimeout = 10 * time.Second
	maxOfferSize     = 64 * 1024
)

var (
	errRateLimited     = errors.New("too many connection attempts")
	errTooManySessions = errors.New("session limit reached")
	errShuttingDown    = errors.New("host is shutting down")
)

// Options supplies the platform hooks. Nil hooks select the platform package.
type Options struct {
	NewCapture   func(remotedesktop.Settings, *slog.Logger) (remotedesktop.CaptureProvider, error)
	NewInjector  func(*slog.Logger) (remotedesktop.Injector, error)
	Dependencies func() map[string]bool
	InputBackend func() string

	// Clock drives admission rate limiting and status caching.
	Clock clockwork.Clock
}

// Handler manages viewer connections.
type Handler struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	clock    clockwork.Clock
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	limiter  *ratelimit.KeyedLimiter
	answerer *rtc.Answerer
	monitor  *monitor.Monitor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	reserved int
	closing  bool
}

// New creates a Handler and starts its background limiter sweep.
// Call Shutdown to stop it.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewCapture == nil {
		opts.NewCapture = func(s remotedesktop.Settings, l *slog.Logger) (remotedesktop.CaptureProvider, error) {
			return platform.NewScreenCapture(s, l)
		}
	}
	if opts.NewInjector == nil {
		opts.NewInjector = platform.NewInjector
	}
	if opts.Dependencies == nil {
		opts.Dependencies = platform.CheckDependencies
	}
	if opts.InputBackend == nil {
		opts.InputBackend = platform.InputBackend
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		clock:   opts.Clock,
		mux:     http.NewServeMux(),
		limiter: ratelimit.NewKeyed(cfg.ConnectRate, cfg.ConnectBurst, opts.Clock),
		monitor: monitor.New(opts.Clock),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  64 * 1024,
			CheckOrigin:      originChecker(cfg.AllowedOrigins),
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*sessionEntry),
	}

	h.mux.HandleFunc("GET "+cfg.WebSocketPath, h.handleWebSocket)
	h.mux.HandleFunc("GET /api/v1/status", h.handleStatus)
	h.mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.handleCloseSession)
	if cfg.WebRTCEnabled {
		h.answerer = rtc.NewAnswerer(cfg.ICEServers, logger)
		h.mux.HandleFunc("POST /api/v1/rtc/offer", h.handleRTCOffer)
	}

	go h.sweepLoop()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Shutdown refuses new viewers, cancels every session and waits for all of
// them to release their resources or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	active := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info("stopping remote desktop sessions", "active", active)
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	remote := remoteHost(r)
	if err := h.reserve(remote); err != nil {
		h.reject(w, remote, err)
		return
	}

	capture, err := h.newCapture()
	if err != nil {
		h.unreserve()
		h.logger.Error("screen capture unavailable", "remote_addr", remote, "error", err)
		writeError(w, http.StatusServiceUnavailable, "screen capture unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		capture.Close()
		h.unreserve()
		h.logger.Warn("websocket upgrade failed", "remote_addr", remote, "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageSize)

	h.runSession(conn, capture, "websocket", remote)
}

// reserve claims a session slot for remote. A successful reservation must
// end in runSession or unreserve.
func (h *Handler) reserve(remote string) error {
	if !h.limiter.Allow(remote) {
		return errRateLimited
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return errShuttingDown
	}
	if len(h.sessions)+h.reserved >= h.cfg.MaxSessions {
		return errTooManySessions
	}
	h.reserved++
	h.wg.Add(1)
	return nil
}

func (h *Handler) unreserve() {
	h.mu.Lock()
	h.reserved--
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) reject(w http.ResponseWriter, remote string, err error) {
	status := http.StatusServiceUnavailable
	if errors.Is(err, errRateLimited) {
		status = http.StatusTooManyRequests
	}
	h.logger.Warn("viewer rejected", "remote_addr", remote, "reason", err.Error())
	writeError(w, status, err.Error())
}

func (h *Handler) newCapture() (remotedesktop.CaptureProvider, error) {
	return h.opts.NewCapture(h.cfg.SessionSettings(), h.logger)
}

// runSession builds a session over a reserved slot and blocks until it ends.
func (h *Handler) runSession(conn remotedesktop.Conn, capture remotedesktop.CaptureProvider, transport, remote string) {
	settings := remotedesktop.NewSessionSettings(h.cfg.SessionSettings())
	// The capture may have fallen back to another monitor.
	settings.SetMonitorIndex(capture.MonitorIndex())

	logger := h.logger.With("transport", transport, "remote_addr", remote)
	dispatcher := h.newDispatcher(capture, settings, logger)

	entry := &sessionEntry{transport: transport, remoteAddr: remote}
	entry.session = remotedesktop.NewSession(conn, capture, dispatcher, settings, remotedesktop.SessionConfig{
		Logger:       logger,
		WriteTimeout: h.cfg.WriteTimeout(),
		ReadTimeout:  h.cfg.ReadTimeout(),
		PingPeriod:   h.cfg.PingPeriod(),
		OnClosed:     h.forget,
	})

	h.mu.Lock()
	h.reserved--
	h.sessions[entry.session.ID()] = entry
	h.mu.Unlock()

	entry.session.Run(h.ctx)
}

// newDispatcher returns an input dispatcher, disabled when input is not
// allowed or no injector is available.
func (h *Handler) newDispatcher(capture remotedesktop.CaptureProvider, settings *remotedesktop.SessionSettings, logger *slog.Logger) *remotedesktop.InputDispatcher {
	if !settings.AllowInput() {
		return remotedesktop.NewInputDispatcher(nil, capture.CaptureBounds(), false, logger)
	}

	injector, err := h.opts.NewInjector(logger)
	if err != nil {
		logger.Warn("input injection unavailable, session is view-only", "error", err)
		settings.SetAllowInput(false)
		return remotedesktop.NewInputDispatcher(nil, capture.CaptureBounds(), false, logger)
	}
	return remotedesktop.NewInputDispatcher(injector, capture.CaptureBounds(), true, logger)
}

// forget runs once per session after it has released its resources.
func (h *Handler) forget(s *remotedesktop.Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) sweepLoop() {
	ticker := h.clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.Chan():
			if n := h.limiter.Sweep(); n > 0 {
				h.logger.Debug("evicted idle rate limit buckets", "count", n)
			}
		}
	}
}

// originChecker allows the listed origins, or any origin for "*". An empty
// list keeps gorilla's same-origin check.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
