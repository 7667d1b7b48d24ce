package server

import (
	"encoding/json"
	"fmt"
	"time"

	"pspbridge/input"
	"pspbridge/stream"
	"pspbridge/types"
)

// deadzone is the analog magnitude below which an axis is neutral.
const deadzone = 0.3

// dispatch handles one decoded line and returns the response to write,
// or nil when the command defers its answer (request_stream). It never
// waits on another connection's I/O: forwards are best-effort writes
// under the short forward deadline, and their failures are swallowed.
func (s *Server) dispatch(c *conn, line []byte) any {
	var head types.Header
	if err := json.Unmarshal(line, &head); err != nil {
		s.log.Warn("malformed command", "remote", c.key, "error", err)
		return types.NewError("Invalid input")
	}

	switch head.Type {
	case types.TypePing:
		return types.NewPong(time.Now())

	case types.TypeButton:
		return s.handleButton(c, line)

	case types.TypeAnalog:
		return s.handleAnalog(line)

	case types.TypeDeviceInfo:
		info := types.DefaultDeviceInfo()
		if err := json.Unmarshal(line, &info); err != nil {
			return types.NewError("Invalid input")
		}
		c.role = "device"
		s.setDeviceInfo(info, c.key)
		s.log.Info("device info received", "remote", c.key,
			"width", info.Width, "height", info.Height, "density", info.Density)
		return types.NewAck(true)

	case types.TypeGetDeviceInfo:
		c.role = "editor"
		return types.NewDeviceInfoResponse(s.deviceInfo())

	case types.TypeCurrentLayout:
		var cmd types.LayoutCommand
		if err := json.Unmarshal(line, &cmd); err != nil {
			return types.NewError("Invalid input")
		}
		s.setLayout(cmd.Controls)
		s.log.Info("layout received", "remote", c.key, "controls", len(cmd.Controls))
		return types.NewAck(true)

	case types.TypeLayoutUpdate:
		var cmd types.LayoutCommand
		if err := json.Unmarshal(line, &cmd); err != nil {
			return types.NewError("Invalid input")
		}
		s.setLayout(cmd.Layout)
		return types.NewAck(true)

	case types.TypeGetLayout:
		return types.NewLayoutResponse(s.layoutSnapshot())

	case types.TypeLayoutPreview:
		c.role = "editor"
		// Live preview from the editor: forwarded verbatim to the
		// device if one is registered, dropped otherwise. The editor is
		// acked either way.
		if primary := s.primaryConn(); primary != nil {
			if err := primary.forwardRaw(line); err != nil {
				s.log.Debug("preview forward failed", "error", err)
			}
		}
		return types.NewAck(true)

	case types.TypeSetLayout:
		c.role = "editor"
		var cmd types.LayoutCommand
		if err := json.Unmarshal(line, &cmd); err != nil {
			return types.NewError("Invalid input")
		}
		s.setLayout(cmd.Layout)
		if primary := s.primaryConn(); primary != nil {
			if err := primary.forwardJSON(types.NewSetLayoutForward(cmd.Layout)); err != nil {
				s.log.Debug("set_layout forward failed", "error", err)
			}
		}
		return types.NewAck(true)

	case types.TypeRequestStream:
		return s.handleRequestStream(c, line)

	case types.TypeStopStream:
		s.teardownStream()
		return types.NewStreamStop(true)

	case types.TypeRefreshStream:
		if refresher, ok := s.source.(stream.Refresher); ok {
			refresher.Refresh()
		}
		return types.NewAck(true)

	case types.TypeStreamStatus:
		return s.streamStatus()

	default:
		return types.NewError(fmt.Sprintf("Unknown command type: %s", head.Type))
	}
}

func (s *Server) handleButton(c *conn, line []byte) any {
	var cmd types.ButtonCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		return types.NewError("Invalid input")
	}

	key, ok := input.KeyFor(cmd.Button)
	if !ok {
		s.log.Warn("unknown button", "remote", c.key, "button", cmd.Button)
		return types.NewError(fmt.Sprintf("Unknown button: %s", cmd.Button))
	}

	var err error
	switch cmd.Action {
	case "press":
		err = s.injector.Press(key)
	case "release":
		err = s.injector.Release(key)
	}
	if err != nil {
		s.log.Warn("key injection failed", "key", key, "action", cmd.Action, "error", err)
		return types.NewAck(false)
	}
	s.log.Debug("button", "remote", c.key, "button", cmd.Button, "key", key, "action", cmd.Action)
	return types.NewAck(true)
}

// handleAnalog releases the four directional keys and re-presses the
// ones the stick position selects. Each axis is judged independently
// against the deadzone, so diagonals press two keys. Negative y is up.
func (s *Server) handleAnalog(line []byte) any {
	var cmd types.AnalogCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		return types.NewError("Invalid input")
	}

	for _, key := range []string{input.KeyAnalogUp, input.KeyAnalogDown, input.KeyAnalogLeft, input.KeyAnalogRight} {
		_ = s.injector.Release(key)
	}

	if cmd.Y < -deadzone {
		_ = s.injector.Press(input.KeyAnalogUp)
	} else if cmd.Y > deadzone {
		_ = s.injector.Press(input.KeyAnalogDown)
	}
	if cmd.X < -deadzone {
		_ = s.injector.Press(input.KeyAnalogLeft)
	} else if cmd.X > deadzone {
		_ = s.injector.Press(input.KeyAnalogRight)
	}
	return types.NewAck(true)
}
