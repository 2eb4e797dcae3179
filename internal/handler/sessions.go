package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/slimrmm/deskstream/internal/monitor"
	"github.com/slimrmm/deskstream/internal/remotedesktop"
	"github.com/slimrmm/deskstream/internal/rtc"
	"github.com/slimrmm/deskstream/pkg/version"
)

const statusTimeout = 3 * time.Second

type sessionEntry struct {
	session    *remotedesktop.Session
	transport  string
	remoteAddr string
}

// SessionInfo describes one live session.
type SessionInfo struct {
	ID           string                      `json:"id"`
	Transport    string                      `json:"transport"`
	RemoteAddr   string                      `json:"remote_addr"`
	State        string                      `json:"state"`
	StartedAt    time.Time                   `json:"started_at"`
	InputEnabled bool                        `json:"input_enabled"`
	Settings     remotedesktop.Settings      `json:"settings"`
	Stats        remotedesktop.StatsSnapshot `json:"stats"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Product      string          `json:"product"`
	Version      version.Info    `json:"version"`
	Host         *monitor.Stats  `json:"host,omitempty"`
	Dependencies map[string]bool `json:"dependencies"`
	InputBackend string          `json:"input_backend,omitempty"`
	MaxSessions  int             `json:"max_sessions"`
	Sessions     []SessionInfo   `json:"sessions"`
}

// Sessions returns the live sessions, oldest first.
func (h *Handler) Sessions() []SessionInfo {
	h.mu.Lock()
	entries := make([]*sessionEntry, 0, len(h.sessions))
	for _, e := range h.sessions {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	infos := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		s := e.session
		infos = append(infos, SessionInfo{
			ID:           s.ID(),
			Transport:    e.transport,
			RemoteAddr:   e.remoteAddr,
			State:        s.State().String(),
			StartedAt:    s.StartedAt(),
			InputEnabled: s.InputEnabled(),
			Settings:     s.Settings(),
			Stats:        s.Stats(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	resp := StatusResponse{
		Product:      version.Product,
		Version:      version.Get(),
		Dependencies: h.opts.Dependencies(),
		InputBackend: h.opts.InputBackend(),
		MaxSessions:  h.cfg.MaxSessions,
		Sessions:     h.Sessions(),
	}

	stats, err := h.monitor.GetStats(ctx)
	if err != nil {
		h.logger.Warn("collecting host stats", "error", err)
	} else {
		resp.Host = stats
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.mu.Lock()
	entry, ok := h.sessions[id]
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	h.logger.Info("closing session on request", "session_id", id)
	entry.session.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRTCOffer(w http.ResponseWriter, r *http.Request) {
	var offer rtc.SessionDescription
	body := http.MaxBytesReader(w, r.Body, maxOfferSize)
	if err := json.NewDecoder(body).Decode(&offer); err != nil || offer.SDP == "" {
		writeError(w, http.StatusBadRequest, "invalid SDP offer")
		return
	}

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

	pending, err := h.answerer.Answer(r.Context(), offer)
	if err != nil {
		capture.Close()
		h.unreserve()
		h.logger.Warn("answering WebRTC offer", "remote_addr", remote, "error", err)
		writeError(w, http.StatusBadRequest, "could not answer offer")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pending.Answer); err != nil {
		_ = pending.Close()
		capture.Close()
		h.unreserve()
		h.logger.Warn("sending WebRTC answer", "remote_addr", remote, "error", err)
		return
	}

	go func() {
		conn, err := pending.Wait(h.ctx)
		if err != nil {
			capture.Close()
			h.unreserve()
			h.logger.Warn("WebRTC viewer did not connect", "remote_addr", remote, "error", err)
			return
		}
		h.runSession(conn, capture, "webrtc", remote)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
