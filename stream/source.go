package stream

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"sync"

	"github.com/kbinani/screenshot"
	"github.com/nfnt/resize"
)

// Params are the negotiated dimensions and cadence of a stream.
type Params struct {
	Width   int
	Height  int
	FPS     int
	Quality int
}

// Source supplies encoded frames from the host display. Start is
// asynchronous: it returns once the source has begun setting up, and
// the ready callback fires (on the source's own goroutine) when frames
// can actually be pulled. Frame returns nil when no frame is available.
type Source interface {
	Start(params Params, ready func()) error
	Frame() []byte
	Stop()

	// Name identifies the capture method in status reports.
	Name() string
}

// Refresher is an optional extension for sources whose capture target
// can be re-negotiated mid-stream.
type Refresher interface {
	Refresh()
}

// DisplayServer reports the host display server type, for status
// snapshots only.
func DisplayServer() string {
	switch os.Getenv("XDG_SESSION_TYPE") {
	case "wayland":
		return "wayland"
	case "x11":
		return "x11"
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return "wayland"
	}
	if os.Getenv("DISPLAY") != "" {
		return "x11"
	}
	return "unknown"
}

// ScreenSource captures a display with the screenshot library, scales
// the grab to the requested size and JPEG-encodes it at the requested
// quality.
type ScreenSource struct {
	display int

	mu      sync.Mutex
	params  Params
	running bool
}

// NewScreenSource captures the given display index (0 is the primary).
func NewScreenSource(display int) *ScreenSource {
	return &ScreenSource{display: display}
}

func (s *ScreenSource) Name() string { return "screenshot" }

func (s *ScreenSource) Start(params Params, ready func()) error {
	if screenshot.NumActiveDisplays() == 0 {
		return errors.New("no active displays")
	}
	if s.display >= screenshot.NumActiveDisplays() {
		return fmt.Errorf("display %d out of range", s.display)
	}

	s.mu.Lock()
	s.params = params
	s.running = true
	s.mu.Unlock()

	// Direct capture needs no permission negotiation, so readiness is
	// immediate. Still delivered asynchronously to honor the contract.
	go ready()
	return nil
}

func (s *ScreenSource) Frame() []byte {
	s.mu.Lock()
	params := s.params
	running := s.running
	s.mu.Unlock()
	if !running || params.Width <= 0 || params.Height <= 0 {
		return nil
	}

	bounds := screenshot.GetDisplayBounds(s.display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil
	}

	scaled := resize.Resize(uint(params.Width), uint(params.Height), img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: params.Quality}); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (s *ScreenSource) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
