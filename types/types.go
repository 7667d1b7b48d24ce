package types

import (
	"encoding/json"
	"time"
)

// MessageType differentiates newline-delimited JSON messages on the
// control connection.
type MessageType string

const (
	TypePing          MessageType = "ping"
	TypeButton        MessageType = "button"
	TypeAnalog        MessageType = "analog"
	TypeDeviceInfo    MessageType = "device_info"
	TypeGetDeviceInfo MessageType = "get_device_info"
	TypeCurrentLayout MessageType = "current_layout"
	TypeLayoutUpdate  MessageType = "layout_update"
	TypeGetLayout     MessageType = "get_layout"
	TypeLayoutPreview MessageType = "layout_preview"
	TypeSetLayout     MessageType = "set_layout"
	TypeRequestStream MessageType = "request_stream"
	TypeStopStream    MessageType = "stop_stream"
	TypeRefreshStream MessageType = "refresh_stream"
	TypeStreamStatus  MessageType = "stream_status"
)

// Header carries just the type field, enough to route a command before
// decoding the rest of it.
type Header struct {
	Type MessageType `json:"type"`
}

// ButtonCommand is a press or release of a named controller button.
type ButtonCommand struct {
	Button string `json:"button"`
	Action string `json:"action"` // "press" or "release"
}

// AnalogCommand is an analog stick position, both axes in [-1, 1].
// Negative y means the stick is pushed up.
type AnalogCommand struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DeviceInfo describes the mobile device's screen.
type DeviceInfo struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Density float64 `json:"density"`
}

// Device info defaults assumed before any device_info message arrives.
const (
	DefaultDeviceWidth   = 1920
	DefaultDeviceHeight  = 1080
	DefaultDeviceDensity = 2.75
)

// DefaultDeviceInfo returns the device info used when no device has
// reported itself yet. Decoding a device_info command into this value
// also gives omitted fields their defaults.
func DefaultDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Width:   DefaultDeviceWidth,
		Height:  DefaultDeviceHeight,
		Density: DefaultDeviceDensity,
	}
}

// ControlSettings is the position and appearance of one on-screen
// control. Coordinates are normalized to [0, 1].
type ControlSettings struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Scale   float64 `json:"scale"`
	Opacity float64 `json:"opacity"`
	Visible bool    `json:"visible"`
}

// UnmarshalJSON applies the documented defaults (scale 1.0, opacity 1.0,
// visible true) for fields the sender omitted.
func (c *ControlSettings) UnmarshalJSON(data []byte) error {
	type plain ControlSettings
	settings := plain{Scale: 1.0, Opacity: 1.0, Visible: true}
	if err := json.Unmarshal(data, &settings); err != nil {
		return err
	}
	*c = ControlSettings(settings)
	return nil
}

// Layout maps control identifiers to their settings. It is replaced
// wholesale on every write; there is no merging.
type Layout map[string]ControlSettings

// LayoutCommand covers the layout-bearing commands: current_layout
// carries the Controls field, layout_update and set_layout carry Layout.
type LayoutCommand struct {
	Controls Layout `json:"controls"`
	Layout   Layout `json:"layout"`
}

// StreamRequest carries the parameters of a request_stream command.
type StreamRequest struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	FPS     int `json:"fps"`
	Quality int `json:"quality"`
}

// Stream parameter defaults, matching a portrait phone viewport.
const (
	DefaultStreamWidth   = 720
	DefaultStreamHeight  = 1280
	DefaultStreamFPS     = 30
	DefaultStreamQuality = 60
)

// DefaultStreamRequest returns a request pre-filled with defaults so a
// JSON decode only overwrites the fields the client sent.
func DefaultStreamRequest() StreamRequest {
	return StreamRequest{
		Width:   DefaultStreamWidth,
		Height:  DefaultStreamHeight,
		FPS:     DefaultStreamFPS,
		Quality: DefaultStreamQuality,
	}
}

// Clamp replaces unusable parameter values with the defaults. Width,
// height and fps must be positive; quality must land in [1, 100].
// Dimensions are converted to unsigned sizes downstream, so a negative
// value here must never survive.
func (r *StreamRequest) Clamp() {
	if r.Width <= 0 {
		r.Width = DefaultStreamWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultStreamHeight
	}
	if r.FPS <= 0 {
		r.FPS = DefaultStreamFPS
	}
	if r.Quality < 1 || r.Quality > 100 {
		r.Quality = DefaultStreamQuality
	}
}

// Responses. Every response carries a type tag so clients can route it.

type Ack struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
}

func NewAck(success bool) Ack {
	return Ack{Type: "ack", Success: success}
}

type ErrorResponse struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewError(message string) ErrorResponse {
	return ErrorResponse{Type: "error", Message: message}
}

// Pong answers a ping. Timestamp is Unix time in seconds.
type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp float64     `json:"timestamp"`
}

func NewPong(now time.Time) Pong {
	return Pong{Type: "pong", Timestamp: float64(now.UnixNano()) / float64(time.Second)}
}

// DeviceInfoResponse answers get_device_info.
type DeviceInfoResponse struct {
	Type    MessageType `json:"type"`
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Density float64     `json:"density"`
}

func NewDeviceInfoResponse(info DeviceInfo) DeviceInfoResponse {
	return DeviceInfoResponse{
		Type:    "device_info",
		Width:   info.Width,
		Height:  info.Height,
		Density: info.Density,
	}
}

// LayoutResponse answers get_layout. Controls is never null on the
// wire, clients may index it unconditionally.
type LayoutResponse struct {
	Type     MessageType `json:"type"`
	Controls Layout      `json:"controls"`
}

func NewLayoutResponse(layout Layout) LayoutResponse {
	if layout == nil {
		layout = Layout{}
	}
	return LayoutResponse{Type: "layout", Controls: layout}
}

// SetLayoutForward is the message forwarded to the primary connection
// when an editor saves a layout.
type SetLayoutForward struct {
	Type   MessageType `json:"type"`
	Layout Layout      `json:"layout"`
}

func NewSetLayoutForward(layout Layout) SetLayoutForward {
	if layout == nil {
		layout = Layout{}
	}
	return SetLayoutForward{Type: "set_layout", Layout: layout}
}

// StreamStart is the deferred answer to request_stream, delivered once
// the frame source reports ready.
type StreamStart struct {
	Type   MessageType `json:"type"`
	URL    string      `json:"url"`
	Port   int         `json:"port"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

type StreamError struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewStreamError(message string) StreamError {
	return StreamError{Type: "stream_error", Message: message}
}

type StreamStop struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
}

func NewStreamStop(success bool) StreamStop {
	return StreamStop{Type: "stream_stop", Success: success}
}

// StreamStatus is a point-in-time snapshot of the streaming pipeline.
type StreamStatus struct {
	Type          MessageType `json:"type"`
	Streaming     bool        `json:"streaming"`
	Port          int         `json:"port"`
	Clients       int         `json:"clients"`
	FPS           int         `json:"fps"`
	CaptureMethod string      `json:"capture_method"`
	DisplayServer string      `json:"display_server"`
}
