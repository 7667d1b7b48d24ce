package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `{"type":"ping"}`)
	assert.Equal(t, "pong", resp["type"])
	timestamp, ok := resp["timestamp"].(float64)
	require.True(t, ok, "timestamp should be a number")
	assert.Greater(t, timestamp, 0.0)
}

func TestButtonPressThenRelease(t *testing.T) {
	t.Parallel()

	injector := &fakeInjector{}
	srv := newTestServer(t, injector, nil)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `{"type":"button","button":"x","action":"press"}`)
	assert.Equal(t, "ack", resp["type"])
	assert.Equal(t, true, resp["success"])

	resp = client.roundTrip(t, `{"type":"button","button":"x","action":"release"}`)
	assert.Equal(t, "ack", resp["type"])
	assert.Equal(t, true, resp["success"])

	calls := injector.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, injectorCall{Key: "z", Action: "press"}, calls[0])
	assert.Equal(t, injectorCall{Key: "z", Action: "release"}, calls[1])
}

func TestButtonUnknown(t *testing.T) {
	t.Parallel()

	injector := &fakeInjector{}
	srv := newTestServer(t, injector, nil)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `{"type":"button","button":"pizza","action":"press"}`)
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "Unknown button: pizza", resp["message"])
	assert.Empty(t, injector.recorded())
}

func TestButtonInjectionFailure(t *testing.T) {
	t.Parallel()

	injector := &fakeInjector{fail: true}
	srv := newTestServer(t, injector, nil)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `{"type":"button","button":"start","action":"press"}`)
	assert.Equal(t, "ack", resp["type"])
	assert.Equal(t, false, resp["success"])

	// The connection is still usable.
	resp = client.roundTrip(t, `{"type":"ping"}`)
	assert.Equal(t, "pong", resp["type"])
}

func TestAnalog(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		x, y    float64
		presses []string
	}{
		{"deadzone", 0.1, -0.2, nil},
		{"right", 0.5, 0.0, []string{"l"}},
		{"up left diagonal", -0.5, -0.5, []string{"i", "j"}},
		{"down", 0.0, 0.9, []string{"k"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			injector := &fakeInjector{}
			srv := newTestServer(t, injector, nil)
			client := dialControl(t, srv)

			resp := client.roundTrip(t, fmt.Sprintf(`{"type":"analog","x":%v,"y":%v}`, tc.x, tc.y))
			assert.Equal(t, "ack", resp["type"])
			assert.Equal(t, true, resp["success"])

			calls := injector.recorded()
			require.Len(t, calls, 4+len(tc.presses))

			// Always the four directional releases first.
			released := make(map[string]bool)
			for _, call := range calls[:4] {
				assert.Equal(t, "release", call.Action)
				released[call.Key] = true
			}
			for _, key := range []string{"i", "k", "j", "l"} {
				assert.True(t, released[key], "key %q not released", key)
			}

			pressed := make(map[string]bool)
			for _, call := range calls[4:] {
				assert.Equal(t, "press", call.Action)
				pressed[call.Key] = true
			}
			for _, key := range tc.presses {
				assert.True(t, pressed[key], "key %q not pressed", key)
			}
		})
	}
}

func TestMalformedLine(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `this is not json`)
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "Invalid input", resp["message"])

	// Malformed input does not close the connection.
	resp = client.roundTrip(t, `{"type":"ping"}`)
	assert.Equal(t, "pong", resp["type"])
}

func TestUnknownCommandType(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `{"type":"teleport"}`)
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "Unknown command type: teleport", resp["message"])
}

func TestDeviceInfoDefaultsAndOverwrite(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `{"type":"get_device_info"}`)
	assert.Equal(t, "device_info", resp["type"])
	assert.Equal(t, 1920.0, resp["width"])
	assert.Equal(t, 1080.0, resp["height"])
	assert.Equal(t, 2.75, resp["density"])

	resp = client.roundTrip(t, `{"type":"device_info","width":1080,"height":2400,"density":3.5}`)
	assert.Equal(t, "ack", resp["type"])

	resp = client.roundTrip(t, `{"type":"get_device_info"}`)
	assert.Equal(t, 1080.0, resp["width"])
	assert.Equal(t, 2400.0, resp["height"])
	assert.Equal(t, 3.5, resp["density"])
}

func TestLayoutSetThenGet(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `{"type":"get_layout"}`)
	assert.Equal(t, "layout", resp["type"])
	assert.Empty(t, resp["controls"])

	// Omitted settings take their defaults.
	resp = client.roundTrip(t, `{"type":"set_layout","layout":{"dpad":{"x":0.1,"y":0.8},"x":{"x":0.9,"y":0.7,"scale":1.5,"opacity":0.5,"visible":false}}}`)
	assert.Equal(t, "ack", resp["type"])

	resp = client.roundTrip(t, `{"type":"get_layout"}`)
	controls, ok := resp["controls"].(map[string]any)
	require.True(t, ok)
	require.Len(t, controls, 2)

	dpad := controls["dpad"].(map[string]any)
	assert.Equal(t, 0.1, dpad["x"])
	assert.Equal(t, 0.8, dpad["y"])
	assert.Equal(t, 1.0, dpad["scale"])
	assert.Equal(t, 1.0, dpad["opacity"])
	assert.Equal(t, true, dpad["visible"])

	xButton := controls["x"].(map[string]any)
	assert.Equal(t, 1.5, xButton["scale"])
	assert.Equal(t, 0.5, xButton["opacity"])
	assert.Equal(t, false, xButton["visible"])
}

func TestLayoutOverwriteIsWholesale(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	client := dialControl(t, srv)

	client.roundTrip(t, `{"type":"current_layout","controls":{"a":{"x":0.1,"y":0.1},"b":{"x":0.2,"y":0.2}}}`)
	client.roundTrip(t, `{"type":"layout_update","layout":{"c":{"x":0.3,"y":0.3}}}`)

	resp := client.roundTrip(t, `{"type":"get_layout"}`)
	controls := resp["controls"].(map[string]any)
	assert.Len(t, controls, 1)
	assert.Contains(t, controls, "c")
}

func TestLayoutPreviewForwardedToPrimary(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	device := dialControl(t, srv)
	editor := dialControl(t, srv)

	resp := device.roundTrip(t, `{"type":"device_info","width":1080,"height":2400,"density":3.0}`)
	assert.Equal(t, "ack", resp["type"])

	preview := `{"type":"layout_preview","control":"dpad","x":0.25,"y":0.75}`
	resp = editor.roundTrip(t, preview)
	assert.Equal(t, "ack", resp["type"])
	assert.Equal(t, true, resp["success"])

	forwarded := device.recv(t)
	assert.Equal(t, "layout_preview", forwarded["type"])
	assert.Equal(t, "dpad", forwarded["control"])
	assert.Equal(t, 0.25, forwarded["x"])
	assert.Equal(t, 0.75, forwarded["y"])
}

func TestLayoutPreviewWithoutPrimaryStillAcks(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	editor := dialControl(t, srv)

	resp := editor.roundTrip(t, `{"type":"layout_preview","control":"dpad","x":0.5}`)
	assert.Equal(t, "ack", resp["type"])
	assert.Equal(t, true, resp["success"])
}

func TestSetLayoutForwardedToPrimary(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	device := dialControl(t, srv)
	editor := dialControl(t, srv)

	device.roundTrip(t, `{"type":"device_info"}`)

	resp := editor.roundTrip(t, `{"type":"set_layout","layout":{"start":{"x":0.5,"y":0.95}}}`)
	assert.Equal(t, "ack", resp["type"])

	forwarded := device.recv(t)
	assert.Equal(t, "set_layout", forwarded["type"])
	layout, ok := forwarded["layout"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, layout, "start")
}

func TestPrimaryClearedOnDisconnect(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeInjector{}, nil)
	device := dialControl(t, srv)
	editor := dialControl(t, srv)

	device.roundTrip(t, `{"type":"device_info"}`)
	device.conn.Close()

	// Wait until the server notices the disconnect, then previews must
	// be dropped without error.
	require.Eventually(t, func() bool {
		return srv.primaryConn() == nil
	}, 3*time.Second, 20*time.Millisecond)

	resp := editor.roundTrip(t, `{"type":"layout_preview","control":"dpad"}`)
	assert.Equal(t, "ack", resp["type"])
	assert.Equal(t, true, resp["success"])
}

func TestRefreshStream(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	srv := newTestServer(t, &fakeInjector{}, source)
	client := dialControl(t, srv)

	resp := client.roundTrip(t, `{"type":"refresh_stream"}`)
	assert.Equal(t, "ack", resp["type"])

	source.mu.Lock()
	refreshed := source.refreshed
	source.mu.Unlock()
	assert.True(t, refreshed)
}
