package remotedesktop

import "sync/atomic"

const (
	MinJPEGQuality = 1
	MaxJPEGQuality = 100
	MinFPS         = 1
	MaxFPS         = 60

	DefaultJPEGQuality = 75
	DefaultFPS         = 30

	// AllMonitors selects the union of every display.
	AllMonitors = -1
)

// Settings is a plain copy of a session's tunables.
type Settings struct {
	JPEGQuality  int  `json:"jpeg_quality"`
	MaxFPS       int  `json:"max_fps"`
	ShowCursor   bool `json:"show_cursor"`
	MonitorIndex int  `json:"monitor_index"`
	AllowInput   bool `json:"allow_input"`
}

// DefaultSettings returns the settings a session starts with when none are configured.
func DefaultSettings() Settings {
	return Settings{
		JPEGQuality:  DefaultJPEGQuality,
		MaxFPS:       DefaultFPS,
		ShowCursor:   true,
		MonitorIndex: 0,
		AllowInput:   true,
	}
}

// SessionSettings holds the live tunables of one session. The control
// receiver writes them, and the frame producer adopts a monitor selection
// the capture moved on its own; the capture path reads them concurrently. Each field is individually atomic, so a reader may
// observe one stale value for at most one frame.
type SessionSettings struct {
	jpegQuality  atomic.Int32
	maxFPS       atomic.Int32
	showCursor   atomic.Bool
	monitorIndex atomic.Int32
	allowInput   atomic.Bool
}

// NewSessionSettings returns live settings initialised from s, clamped.
func NewSessionSettings(s Settings) *SessionSettings {
	ss := &SessionSettings{}
	ss.SetJPEGQuality(s.JPEGQuality)
	ss.SetMaxFPS(s.MaxFPS)
	ss.SetShowCursor(s.ShowCursor)
	ss.SetMonitorIndex(s.MonitorIndex)
	ss.SetAllowInput(s.AllowInput)
	return ss
}

// ClampJPEGQuality limits q to 1-100.
func ClampJPEGQuality(q int) int {
	return clamp(q, MinJPEGQuality, MaxJPEGQuality)
}

// ClampFPS limits fps to 1-60.
func ClampFPS(fps int) int {
	return clamp(fps, MinFPS, MaxFPS)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *SessionSettings) JPEGQuality() int { return int(s.jpegQuality.Load()) }

// SetJPEGQuality stores q clamped to 1-100 and returns the stored value.
func (s *SessionSettings) SetJPEGQuality(q int) int {
	q = ClampJPEGQuality(q)
	s.jpegQuality.Store(int32(q))
	return q
}

func (s *SessionSettings) MaxFPS() int { return int(s.maxFPS.Load()) }

// SetMaxFPS stores fps clamped to 1-60 and returns the stored value.
func (s *SessionSettings) SetMaxFPS(fps int) int {
	fps = ClampFPS(fps)
	s.maxFPS.Store(int32(fps))
	return fps
}

func (s *SessionSettings) ShowCursor() bool { return s.showCursor.Load() }

func (s *SessionSettings) SetShowCursor(v bool) { s.showCursor.Store(v) }

func (s *SessionSettings) MonitorIndex() int { return int(s.monitorIndex.Load()) }

// SetMonitorIndex stores idx. Callers validate against the monitor list first.
func (s *SessionSettings) SetMonitorIndex(idx int) {
	if idx < AllMonitors {
		idx = AllMonitors
	}
	s.monitorIndex.Store(int32(idx))
}

func (s *SessionSettings) AllowInput() bool { return s.allowInput.Load() }

func (s *SessionSettings) SetAllowInput(v bool) { s.allowInput.Store(v) }

// Snapshot copies the current values.
func (s *SessionSettings) Snapshot() Settings {
	return Settings{
		JPEGQuality:  s.JPEGQuality(),
		MaxFPS:       s.MaxFPS(),
		ShowCursor:   s.ShowCursor(),
		MonitorIndex: s.MonitorIndex(),
		AllowInput:   s.AllowInput(),
	}
}
