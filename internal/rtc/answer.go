package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label of the channel that carries a session.
const DataChannelLabel = "desktop"

const (
	iceGatherTimeout = 10 * time.Second
	openTimeout      = 30 * time.Second
)

// ErrNoDataChannel is returned when the viewer never opens the desktop channel.
var ErrNoDataChannel = errors.New("desktop data channel was not opened")

// ICEServer is a STUN or TURN server.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// DefaultICEServers are used when none are configured.
var DefaultICEServers = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// SessionDescription is the JSON form of an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Configuration converts servers to a pion configuration, falling back to
// DefaultICEServers when servers is empty.
func Configuration(servers []ICEServer) webrtc.Configuration {
	if len(servers) == 0 {
		servers = DefaultICEServers
	}

	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
		}
		if s.Credential != "" {
			ice.Credential = s.Credential
		}
		iceServers = append(iceServers, ice)
	}

	return webrtc.Configuration{ICEServers: iceServers}
}

// Answerer answers viewer offers. Each answer owns one peer connection.
type Answerer struct {
	config      webrtc.Configuration
	maxBuffered uint64
	logger      *slog.Logger
}

// NewAnswerer returns an Answerer using servers for ICE.
func NewAnswerer(servers []ICEServer, logger *slog.Logger) *Answerer {
	if logger == nil {
		logger = slog.Default()
	}

	for _, s := range servers {
		for _, url := range s.URLs {
			logger.Debug("ICE server configured", "url", url, "has_credential", s.Credential != "")
		}
	}

	return &Answerer{
		config:      Configuration(servers),
		maxBuffered: DefaultMaxBuffered,
		logger:      logger,
	}
}

// Pending is an answered offer whose data channel may not be open yet.
type Pending struct {
	Answer SessionDescription

	pc    *webrtc.PeerConnection
	ready chan *DataChannelConn
}

// Answer applies offer and returns the complete local answer once ICE
// gathering is done.
func (a *Answerer) Answer(ctx context.Context, offer SessionDescription) (*Pending, error) {
	if offer.Type != "" && offer.Type != webrtc.SDPTypeOffer.String() {
		return nil, fmt.Errorf("expected SDP offer, got %q", offer.Type)
	}

	pc, err := webrtc.NewPeerConnection(a.config)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	p := &Pending{pc: pc, ready: make(chan *DataChannelConn, 1)}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			a.logger.Warn("ignoring unexpected data channel", "label", dc.Label())
			_ = dc.Close()
			return
		}
		a.bind(p, dc)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		a.logger.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			a.logger.Warn("peer connection failed")
			_ = pc.Close()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		_ = pc.Close()
		return nil, fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	local := pc.LocalDescription()
	p.Answer = SessionDescription{Type: local.Type.String(), SDP: local.SDP}
	return p, nil
}

func (a *Answerer) bind(p *Pending, dc *webrtc.DataChannel) {
	pc := p.pc
	conn := newDataChannelConn(dc, func() bool {
		return pc.ConnectionState() == webrtc.PeerConnectionStateConnected
	}, pc.Close, a.maxBuffered)

	dc.OnMessage(conn.deliver)
	dc.OnClose(conn.markClosed)
	dc.OnOpen(func() {
		select {
		case p.ready <- conn:
		default:
			a.logger.Warn("desktop data channel opened twice, closing duplicate")
			_ = dc.Close()
		}
	})
}

// Wait blocks until the desktop channel opens. On timeout or cancellation
// the peer connection is closed.
func (p *Pending) Wait(ctx context.Context) (*DataChannelConn, error) {
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	select {
	case conn := <-p.ready:
		return conn, nil
	case <-ctx.Done():
		_ = p.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrNoDataChannel
		}
		return nil, ctx.Err()
	}
}

// Close abandons the pending connection. It is safe to call more than once.
func (p *Pending) Close() error {
	return p.pc.Close()
}
