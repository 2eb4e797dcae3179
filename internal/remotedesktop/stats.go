package remotedesktop

import "sync/atomic"

// Stats counts session activity. All fields are safe for concurrent use.
type Stats struct {
	framesSent      atomic.Uint64
	framesDropped   atomic.Uint64
	bytesSent       atomic.Uint64
	messagesHandled atomic.Uint64
	decodeErrors    atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	FramesSent      uint64 `json:"frames_sent"`
	FramesDropped   uint64 `json:"frames_dropped"`
	BytesSent       uint64 `json:"bytes_sent"`
	MessagesHandled uint64 `json:"messages_handled"`
	DecodeErrors    uint64 `json:"decode_errors"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesSent:      s.framesSent.Load(),
		FramesDropped:   s.framesDropped.Load(),
		BytesSent:       s.bytesSent.Load(),
		MessagesHandled: s.messagesHandled.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
	}
}
