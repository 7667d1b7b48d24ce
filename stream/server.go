package stream

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// mjpegPreamble opens the multipart response every viewer gets on
	// connect. The boundary name is fixed; clients hardcode it.
	mjpegPreamble = "HTTP/1.1 200 OK\r\n" +
		"Content-Type: multipart/x-mixed-replace; boundary=frame\r\n" +
		"Cache-Control: no-cache\r\n" +
		"Connection: keep-alive\r\n" +
		"\r\n"

	// frameWait bounds how long a viewer sender blocks on the slot, so
	// it can notice shutdown even when no frames arrive.
	frameWait = time.Second
)

// FanOut serves the current slot frame to every connected viewer as an
// MJPEG stream. Each viewer gets a dedicated sender goroutine; one slow
// or broken viewer never affects another.
type FanOut struct {
	listener net.Listener
	slot     *Slot
	log      *slog.Logger

	viewers   map[string]net.Conn
	viewersMu sync.Mutex
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewFanOut binds the streaming port. Viewer serving begins on Start.
func NewFanOut(addr string, slot *Slot, log *slog.Logger) (*FanOut, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind stream port: %w", err)
	}
	return &FanOut{
		listener: listener,
		slot:     slot,
		log:      log,
		viewers:  make(map[string]net.Conn),
		stop:     make(chan struct{}),
	}, nil
}

// Port returns the actual bound port.
func (f *FanOut) Port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

// Viewers returns the number of currently connected viewers.
func (f *FanOut) Viewers() int {
	f.viewersMu.Lock()
	defer f.viewersMu.Unlock()
	return len(f.viewers)
}

// Start begins accepting viewers.
func (f *FanOut) Start() {
	go f.acceptViewers()
}

// Stop closes the listener and every viewer connection. Safe to call
// more than once.
func (f *FanOut) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
		f.listener.Close()

		f.viewersMu.Lock()
		for _, conn := range f.viewers {
			conn.Close()
		}
		f.viewers = make(map[string]net.Conn)
		f.viewersMu.Unlock()
	})
}

func (f *FanOut) acceptViewers() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			select {
			case <-f.stop:
				return
			default:
				f.log.Error("viewer accept failed", "error", err)
				continue
			}
		}

		addr := conn.RemoteAddr().String()
		f.viewersMu.Lock()
		f.viewers[addr] = conn
		f.viewersMu.Unlock()
		f.log.Info("viewer connected", "remote", addr)

		go f.serveViewer(conn, addr)
	}
}

func (f *FanOut) serveViewer(conn net.Conn, addr string) {
	defer f.removeViewer(addr)

	if _, err := conn.Write([]byte(mjpegPreamble)); err != nil {
		return
	}

	for {
		select {
		case <-f.stop:
			return
		default:
		}

		if !f.slot.Wait(frameWait) {
			continue
		}
		frame := f.slot.Frame()
		if frame == nil {
			continue
		}

		header := fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
		if _, err := conn.Write([]byte(header)); err != nil {
			return
		}
		if _, err := conn.Write(frame); err != nil {
			return
		}
		if _, err := conn.Write([]byte("\r\n")); err != nil {
			return
		}
	}
}

func (f *FanOut) removeViewer(addr string) {
	f.viewersMu.Lock()
	if conn, ok := f.viewers[addr]; ok {
		conn.Close()
		delete(f.viewers, addr)
		f.log.Info("viewer disconnected", "remote", addr)
	}
	f.viewersMu.Unlock()
}
