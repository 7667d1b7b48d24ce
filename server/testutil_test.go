package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pspbridge/stream"
)

type injectorCall struct {
	Key    string
	Action string
}

// fakeInjector records injection calls in order.
type fakeInjector struct {
	mu    sync.Mutex
	calls []injectorCall
	fail  bool
}

func (f *fakeInjector) Press(key string) error {
	return f.record(key, "press")
}

func (f *fakeInjector) Release(key string) error {
	return f.record(key, "release")
}

func (f *fakeInjector) record(key, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, injectorCall{Key: key, Action: action})
	if f.fail {
		return errors.New("injection failed")
	}
	return nil
}

// recorded returns a copy of the calls made so far.
func (f *fakeInjector) recorded() []injectorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]injectorCall(nil), f.calls...)
}

func (f *fakeInjector) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// fakeSource is a frame source whose readiness is fired manually unless
// autoReady is set.
type fakeSource struct {
	mu        sync.Mutex
	autoReady bool
	failStart bool
	frame     []byte

	started   bool
	stopped   bool
	refreshed bool
	params    stream.Params
	ready     func()
}

func (f *fakeSource) Start(params stream.Params, ready func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return errors.New("capture refused")
	}
	f.started = true
	f.stopped = false
	f.params = params
	f.ready = ready
	if f.autoReady {
		go ready()
	}
	return nil
}

func (f *fakeSource) fireReady() {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()
	ready()
}

func (f *fakeSource) Frame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = true
}

func (f *fakeSource) isStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeSource) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeSource) startParams() stream.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer starts a server on ephemeral ports with the given
// capabilities. Stopped automatically at test cleanup.
func newTestServer(t *testing.T, injector *fakeInjector, source stream.Source) *Server {
	t.Helper()
	srv, err := New(Config{Host: "127.0.0.1", Port: 0}, injector, source, testLogger())
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Stop)
	return srv
}

// testClient is a control-port client speaking newline-delimited JSON.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialControl(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *testClient) recv(t *testing.T) map[string]any {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(line)), &msg))
	return msg
}

// recvNothing asserts that no message arrives within the wait window.
func (c *testClient) recvNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(wait))
	_, err := c.reader.ReadString('\n')
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "expected read timeout, got %v", err)
}

func (c *testClient) roundTrip(t *testing.T, line string) map[string]any {
	t.Helper()
	c.send(t, line)
	return c.recv(t)
}
