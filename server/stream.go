package server

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"pspbridge/stream"
	"pspbridge/types"
)

// handleRequestStream runs the Idle → Starting transition. The answer
// is deferred: nothing is written until the frame source reports ready
// (onSourceReady) or fails to start.
func (s *Server) handleRequestStream(c *conn, line []byte) any {
	if s.source == nil {
		return types.NewStreamError("screen capture not available")
	}

	req := types.DefaultStreamRequest()
	if err := json.Unmarshal(line, &req); err != nil {
		return types.NewStreamError("invalid stream parameters")
	}
	req.Clamp()
	params := stream.Params{Width: req.Width, Height: req.Height, FPS: req.FPS, Quality: req.Quality}

	s.stateMu.Lock()
	if s.session.state != streamIdle {
		s.stateMu.Unlock()
		return types.NewStreamError("stream already active")
	}
	s.session.state = streamStarting
	s.session.pending = &pendingStream{requester: c.key, params: params}
	s.session.params = params
	s.stateMu.Unlock()

	fanout, err := stream.NewFanOut(net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.streamPort)), s.slot, s.log)
	if err != nil {
		s.log.Error("stream port bind failed", "error", err)
		s.teardownStream()
		return types.NewStreamError(err.Error())
	}
	s.stateMu.Lock()
	s.fanout = fanout
	s.stateMu.Unlock()

	s.log.Info("stream requested", "remote", c.key,
		"width", params.Width, "height", params.Height, "fps", params.FPS, "quality", params.Quality)

	// The capability is invoked without holding the state lock; its
	// ready callback arrives on the source's own goroutine.
	if err := s.source.Start(params, s.onSourceReady); err != nil {
		s.log.Error("frame source start failed", "error", err)
		s.teardownStream()
		return types.NewStreamError(fmt.Sprintf("failed to start capture: %v", err))
	}

	// A stop_stream or disconnect may have torn the state down while
	// the source was starting; the source must not be left running.
	s.stateMu.Lock()
	cancelled := s.session.state == streamIdle
	s.stateMu.Unlock()
	if cancelled {
		s.source.Stop()
		fanout.Stop()
		return nil
	}

	fanout.Start()
	return nil
}

// onSourceReady runs the Starting → Streaming transition: start the
// capture loop and deliver the deferred stream_start to whoever asked,
// exactly once. A request cancelled in the meantime (stop_stream or
// requester disconnect) makes this a no-op.
func (s *Server) onSourceReady() {
	s.stateMu.Lock()
	if s.session.state != streamStarting || s.session.pending == nil {
		s.stateMu.Unlock()
		return
	}
	req := *s.session.pending
	s.session.pending = nil
	s.session.owner = req.requester
	s.session.state = streamStreaming

	capture := stream.NewCapture(s.source, s.slot, req.params.FPS, s.log)
	s.capture = capture
	fanout := s.fanout
	s.stateMu.Unlock()

	capture.Start()
	s.log.Info("stream started", "port", fanout.Port(), "fps", req.params.FPS)

	s.connsMu.RLock()
	requester := s.conns[req.requester]
	s.connsMu.RUnlock()
	if requester == nil {
		// Requester vanished between readiness and delivery; the
		// disconnect cleanup tears the stream down.
		return
	}

	start := types.StreamStart{
		Type:   "stream_start",
		URL:    fmt.Sprintf("http://%s:%d", s.advertiseHost(), fanout.Port()),
		Port:   fanout.Port(),
		Width:  req.params.Width,
		Height: req.params.Height,
	}
	if err := requester.sendJSON(start); err != nil {
		s.log.Warn("stream_start delivery failed", "remote", req.requester, "error", err)
	}
}

// teardownStream runs Starting/Streaming → Idle: stop the capture loop
// and the frame source, close the viewer listener, drop the pending
// request and any buffered frame. Safe to call from any state.
func (s *Server) teardownStream() {
	s.stateMu.Lock()
	if s.session.state == streamIdle {
		s.stateMu.Unlock()
		return
	}
	capture := s.capture
	fanout := s.fanout
	s.capture = nil
	s.fanout = nil
	s.session.state = streamIdle
	s.session.pending = nil
	s.session.owner = ""
	s.stateMu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	if s.source != nil {
		s.source.Stop()
	}
	if fanout != nil {
		fanout.Stop()
	}
	s.slot.Clear()
	s.log.Info("stream stopped")
}

// cancelStreamFor tears the stream down if the given connection
// requested it, whether it is still starting or already running.
func (s *Server) cancelStreamFor(connKey string) {
	s.stateMu.Lock()
	owned := (s.session.pending != nil && s.session.pending.requester == connKey) ||
		s.session.owner == connKey
	s.stateMu.Unlock()
	if owned {
		s.teardownStream()
	}
}

func (s *Server) streamStatus() types.StreamStatus {
	s.stateMu.Lock()
	streaming := s.session.state == streamStreaming
	params := s.session.params
	fanout := s.fanout
	s.stateMu.Unlock()

	port := s.streamPort
	clients := 0
	if fanout != nil {
		port = fanout.Port()
		clients = fanout.Viewers()
	}

	method := ""
	if s.source != nil {
		method = s.source.Name()
	}
	return types.StreamStatus{
		Type:          "stream_status",
		Streaming:     streaming,
		Port:          port,
		Clients:       clients,
		FPS:           params.FPS,
		CaptureMethod: method,
		DisplayServer: stream.DisplayServer(),
	}
}
