package printer

import (
	"context"
	"io"

	hosterr "github.com/tothambrus11/3d-printer-controller/pkg/errors"
	"github.com/tothambrus11/3d-printer-controller/pkg/gcode"
)

// RunScript streams a G-code program, one acknowledged command at a time.
// Mode, homing, feed rate and move words in the script update the driver
// state the same way the typed operations do. Moves are not bounds-checked
// and are not waited for. It returns the number of commands sent.
func (p *Printer) RunScript(ctx context.Context, r io.Reader) (int, error) {
	if err := p.requireInitialized(); err != nil {
		return 0, err
	}
	commands, err := gcode.LoadScript(r)
	if err != nil {
		return 0, hosterr.InvalidArgumentError("script", err)
	}

	for i, line := range commands {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		cmd, err := gcode.ParseCommand(line)
		if err != nil {
			return i, hosterr.InvalidArgumentError("script line", line)
		}
		if cmd == nil {
			continue
		}

		if cmd.Name == gcode.CmdReportPosition {
			if _, err := p.PositionSnapshot(ctx); err != nil {
				return i, err
			}
			continue
		}

		p.applyScriptCommand(cmd)
		if err := p.SendCommand(ctx, line); err != nil {
			return i, err
		}
	}
	p.log.WithField("commands", len(commands)).Info("script finished")
	return len(commands), nil
}

func (p *Printer) applyScriptCommand(cmd *gcode.Command) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd.Name {
	case gcode.CmdAbsolute:
		p.mode = Absolute
	case gcode.CmdRelative:
		p.mode = Relative
	case gcode.CmdHome:
		for _, letter := range cmd.Axes() {
			axis, _ := ParseAxis(letter)
			p.homed[axis] = true
		}
	case gcode.CmdRapidMove, gcode.CmdLinearMove:
		if f, ok, _ := cmd.Float("F"); ok && f > 0 {
			p.speed = f / 60
		}
		coords := []*float64{&p.position.X, &p.position.Y, &p.position.Z}
		for i, axis := range Axes {
			v, ok, _ := cmd.Float(string(axis))
			if !ok {
				continue
			}
			if p.mode == Relative {
				*coords[i] += v
			} else {
				*coords[i] = v
			}
		}
	}
}
