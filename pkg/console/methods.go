package console

import (
	"context"
	"fmt"
	"time"

	"github.com/tothambrus11/3d-printer-controller/pkg/printer"
)

// methodError is a request error that never reached the driver.
type methodError struct {
	code int
	msg  string
}

func (e *methodError) Error() string { return e.msg }

func invalidParams(format string, args ...any) error {
	return &methodError{code: codeInvalidParams, msg: fmt.Sprintf(format, args...)}
}

func (s *Server) dispatch(ctx context.Context, method string, params map[string]any) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo()
	case "printer.info":
		return s.methodPrinterInfo()
	case "printer.position":
		return s.methodPosition(ctx)
	case "printer.gcode.script":
		return s.methodGCodeScript(ctx, params)
	case "printer.home":
		return s.methodHome(ctx, params)
	case "printer.move":
		return s.methodMove(ctx, params)
	case "printer.move_to":
		return s.methodMoveTo(ctx, params)
	case "printer.speed":
		return s.methodSpeed(ctx, params)
	case "printer.emergency_stop":
		return s.methodEmergencyStop()
	default:
		return nil, &methodError{code: codeMethodNotFound, msg: "method not found: " + method}
	}
}

func (s *Server) methodServerInfo() (any, error) {
	return map[string]any{
		"state":           s.driver.State().String(),
		"websocket_count": s.ClientCount(),
		"uptime":          time.Since(s.startTime).Seconds(),
	}, nil
}

func (s *Server) methodPrinterInfo() (any, error) {
	homed := ""
	for _, a := range s.driver.HomedAxes() {
		homed += string(a)
	}
	env := s.driver.Envelope()
	return map[string]any{
		"state":           s.driver.State().String(),
		"coordinate_mode": s.driver.CoordinateMode().String(),
		"homed_axes":      homed,
		"speed":           s.driver.Speed(),
		"position":        s.driver.CachedPosition(),
		"envelope":        printer.Vector3D(env),
	}, nil
}

// methodPosition asks the firmware for its position.
func (s *Server) methodPosition(ctx context.Context) (any, error) {
	snap, err := s.driver.PositionSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"current": snap.Current,
		"target":  snap.Target,
		"settled": snap.Settled(),
		"cached":  s.driver.CachedPosition(),
	}, nil
}

func (s *Server) methodGCodeScript(ctx context.Context, params map[string]any) (any, error) {
	r, err := splitScript(params["script"])
	if err != nil {
		return nil, err
	}
	n, err := s.driver.RunScript(ctx, r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"commands": n}, nil
}

// methodHome homes the listed axes, X and Y when none are given.
func (s *Server) methodHome(ctx context.Context, params map[string]any) (any, error) {
	axes := []printer.Axis{printer.AxisX, printer.AxisY}
	if raw, ok := params["axes"]; ok {
		list, ok := raw.([]any)
		if !ok || len(list) == 0 {
			return nil, invalidParams("axes must be a non-empty list")
		}
		axes = axes[:0]
		for _, v := range list {
			name, _ := v.(string)
			a, ok := printer.ParseAxis(name)
			if !ok {
				return nil, invalidParams("unknown axis %v", v)
			}
			axes = append(axes, a)
		}
	}
	if err := s.driver.AutoHome(ctx, axes...); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *Server) methodMove(ctx context.Context, params map[string]any) (any, error) {
	var d [3]float64
	for i, key := range []string{"x", "y", "z"} {
		v, err := floatParam(params, key)
		if err != nil {
			return nil, err
		}
		if v != nil {
			d[i] = *v
		}
	}
	var opts []printer.MoveOption
	if wait, ok := params["wait"].(bool); ok && !wait {
		opts = append(opts, printer.WithoutWait())
	}
	if err := s.driver.Go(ctx, d[0], d[1], d[2], opts...); err != nil {
		return nil, err
	}
	return s.driver.CachedPosition(), nil
}

// methodMoveTo moves to the given coordinates. Omitted axes keep their
// cached position.
func (s *Server) methodMoveTo(ctx context.Context, params map[string]any) (any, error) {
	var t printer.Target
	var err error
	if t.X, err = floatParam(params, "x"); err != nil {
		return nil, err
	}
	if t.Y, err = floatParam(params, "y"); err != nil {
		return nil, err
	}
	if t.Z, err = floatParam(params, "z"); err != nil {
		return nil, err
	}
	if err := s.driver.GoTo(ctx, t); err != nil {
		return nil, err
	}
	return s.driver.CachedPosition(), nil
}

func (s *Server) methodSpeed(ctx context.Context, params map[string]any) (any, error) {
	v, err := floatParam(params, "speed")
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, invalidParams("missing speed")
	}
	if err := s.driver.SetSpeed(ctx, *v); err != nil {
		return nil, err
	}
	return map[string]any{"speed": s.driver.Speed()}, nil
}

func (s *Server) methodEmergencyStop() (any, error) {
	if err := s.driver.EmergencyStop(); err != nil {
		return nil, err
	}
	return "ok", nil
}

// floatParam returns nil when key is absent.
func floatParam(params map[string]any, key string) (*float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	v, ok := raw.(float64)
	if !ok {
		return nil, invalidParams("%s must be a number", key)
	}
	return &v, nil
}
