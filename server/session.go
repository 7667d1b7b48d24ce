package server

import (
	"pspbridge/stream"
	"pspbridge/types"
)

// streamState tracks the streaming lifecycle. Only one stream may be
// starting or active at a time.
type streamState int

const (
	streamIdle streamState = iota
	streamStarting
	streamStreaming
)

// pendingStream records who asked for a stream while the frame source
// is starting up. The requester field is a connection key, not an
// owning reference: if that connection dies the record is cancelled.
type pendingStream struct {
	requester string
	params    stream.Params
}

// session is the shared state every connection reads and writes.
// Guarded by Server.stateMu as a single boundary; last write wins, no
// merging, no versioning.
type session struct {
	device  types.DeviceInfo
	layout  types.Layout
	primary string // connection key of the device connection, "" if none

	state   streamState
	pending *pendingStream
	owner   string // requester of the active stream, "" when idle
	params  stream.Params
}

func newSession() session {
	return session{
		device: types.DefaultDeviceInfo(),
		layout: types.Layout{},
		params: stream.Params{
			Width:   types.DefaultStreamWidth,
			Height:  types.DefaultStreamHeight,
			FPS:     types.DefaultStreamFPS,
			Quality: types.DefaultStreamQuality,
		},
	}
}

// setDeviceInfo overwrites the device record and marks the sender as
// the primary connection. Any connection becomes primary simply by
// sending device_info; the last sender wins, with no arbitration.
func (s *Server) setDeviceInfo(info types.DeviceInfo, connKey string) {
	s.stateMu.Lock()
	s.session.device = info
	s.session.primary = connKey
	s.stateMu.Unlock()
}

func (s *Server) deviceInfo() types.DeviceInfo {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.session.device
}

func (s *Server) setLayout(layout types.Layout) {
	if layout == nil {
		layout = types.Layout{}
	}
	s.stateMu.Lock()
	s.session.layout = layout
	s.stateMu.Unlock()
}

func (s *Server) layoutSnapshot() types.Layout {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	// Layouts are replaced wholesale and never mutated in place, so the
	// map reference itself is safe to hand out.
	return s.session.layout
}

// primaryConn resolves the primary connection key to a live connection,
// or nil if there is no primary or it already went away.
func (s *Server) primaryConn() *conn {
	s.stateMu.Lock()
	key := s.session.primary
	s.stateMu.Unlock()
	if key == "" {
		return nil
	}
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return s.conns[key]
}

func (s *Server) clearPrimaryIf(connKey string) {
	s.stateMu.Lock()
	if s.session.primary == connKey {
		s.session.primary = ""
	}
	s.stateMu.Unlock()
}
