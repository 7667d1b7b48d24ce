// Package server implements the control-port relay between the mobile
// controller, the desktop layout editor and the host: it translates
// button events into injected keys, holds the shared layout and device
// state, forwards editor messages to the device, and drives the screen
// streaming pipeline.
package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"pspbridge/input"
	"pspbridge/stream"
)

// DefaultPort is the control port. The streaming port defaults to the
// control port plus one.
const DefaultPort = 5555

// readTimeout bounds each socket read so handler loops can observe the
// stop signal. It carries no request-level deadline semantics.
const readTimeout = time.Second

// writeTimeout bounds each socket write so a stalled client cannot
// block the handler behind it.
const writeTimeout = 5 * time.Second

// forwardTimeout bounds writes that originate from another
// connection's handler. A stalled device must not hold an editor's
// dispatch; a forward that misses the window is dropped.
const forwardTimeout = 500 * time.Millisecond

// Config describes where the server listens.
type Config struct {
	Host string
	Port int
	// StreamPort is the MJPEG port. Zero means control port + 1 (or an
	// ephemeral port when the control port is itself ephemeral).
	StreamPort int
}

// Server accepts control connections and dispatches their commands.
type Server struct {
	cfg        Config
	streamPort int
	log        *slog.Logger
	injector   input.Injector
	source     stream.Source

	listener net.Listener
	conns    map[string]*conn
	connsMu  sync.RWMutex

	// stateMu is the single boundary around session state and the
	// streaming pipeline handles. Never held across a network write or
	// a capability call.
	stateMu sync.Mutex
	session session
	capture *stream.Capture
	fanout  *stream.FanOut

	slot     *stream.Slot
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New binds the control port. source may be nil when no screen capture
// capability exists; stream requests are then rejected.
func New(cfg Config, injector input.Injector, source stream.Source, log *slog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("bind control port: %w", err)
	}

	streamPort := cfg.StreamPort
	if streamPort == 0 && cfg.Port != 0 {
		streamPort = cfg.Port + 1
	}

	return &Server{
		cfg:        cfg,
		streamPort: streamPort,
		log:        log,
		injector:   injector,
		source:     source,
		listener:   listener,
		conns:      make(map[string]*conn),
		session:    newSession(),
		slot:       stream.NewSlot(),
		stopChan:   make(chan struct{}),
	}, nil
}

// Addr returns the control listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start begins accepting connections.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.acceptConnections()
}

// Stop shuts the server down: no new connections, all existing control
// and viewer sockets closed, streaming stopped, and every mapped key
// released so the host keyboard is never left stuck.
func (s *Server) Stop() {
	close(s.stopChan)
	s.listener.Close()

	s.connsMu.Lock()
	for _, c := range s.conns {
		c.close()
	}
	s.conns = make(map[string]*conn)
	s.connsMu.Unlock()

	s.teardownStream()
	s.wg.Wait()

	s.log.Info("releasing all keys")
	input.ReleaseAll(s.injector)
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				s.log.Error("accept failed", "error", err)
				continue
			}
		}

		c := newConn(netConn)
		s.connsMu.Lock()
		s.conns[c.key] = c
		s.connsMu.Unlock()
		s.log.Info("client connected", "remote", c.key)

		s.wg.Add(1)
		go s.handleConn(c)
	}
}

// handleConn is the per-connection read loop: one newline-delimited
// JSON command in, synchronous dispatch, one response out (or none, for
// deferred stream starts). Read deadlines only exist so the loop can
// re-check the stop signal.
func (s *Server) handleConn(c *conn) {
	defer s.wg.Done()
	defer s.removeConn(c)

	reader := bufio.NewReader(c.netConn)
	var pending []byte
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		c.netConn.SetReadDeadline(time.Now().Add(readTimeout))
		chunk, err := reader.ReadBytes('\n')
		pending = append(pending, chunk...)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}

		line := bytes.TrimSpace(pending)
		pending = pending[:0]
		if len(line) == 0 {
			continue
		}

		response := s.dispatch(c, line)
		if response == nil {
			continue
		}
		if err := c.sendJSON(response); err != nil {
			s.log.Warn("response write failed", "remote", c.key, "error", err)
			return
		}
	}
}

// removeConn drops a connection from the live set and cleans up any
// state it owned: the primary role, and a stream it requested.
func (s *Server) removeConn(c *conn) {
	s.connsMu.Lock()
	if _, ok := s.conns[c.key]; ok {
		delete(s.conns, c.key)
		s.log.Info("client disconnected", "remote", c.key, "role", c.role)
	}
	s.connsMu.Unlock()
	c.close()

	s.clearPrimaryIf(c.key)
	s.cancelStreamFor(c.key)
}

// conn wraps one accepted control socket. Writes are serialized with a
// mutex because responses, forwarded messages and deferred stream_start
// deliveries come from different goroutines.
type conn struct {
	netConn net.Conn
	key     string

	// role is inferred from message content, never declared by the
	// client. Written only by the connection's own handler goroutine.
	role string

	writeMu sync.Mutex
	enc     *json.Encoder
}

func newConn(netConn net.Conn) *conn {
	return &conn{
		netConn: netConn,
		key:     netConn.RemoteAddr().String(),
		role:    "unknown",
		enc:     json.NewEncoder(netConn),
	}
}

// sendJSON writes one message followed by a newline (json.Encoder
// appends it).
func (c *conn) sendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.enc.Encode(v)
}

// forwardJSON writes a message on behalf of another connection's
// handler, under the short forward deadline.
func (c *conn) forwardJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.netConn.SetWriteDeadline(time.Now().Add(forwardTimeout))
	return c.enc.Encode(v)
}

// forwardRaw writes an already-encoded message verbatim, newline
// appended, under the short forward deadline.
func (c *conn) forwardRaw(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.netConn.SetWriteDeadline(time.Now().Add(forwardTimeout))
	if _, err := c.netConn.Write(line); err != nil {
		return err
	}
	_, err := c.netConn.Write([]byte("\n"))
	return err
}

func (c *conn) close() {
	c.netConn.Close()
}
