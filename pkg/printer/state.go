package printer

import (
	"context"

	hosterr "github.com/tothambrus11/3d-printer-controller/pkg/errors"
	"github.com/tothambrus11/3d-printer-controller/pkg/gcode"
)

// SetCoordinateMode records mode and sends G90 or G91. The command is sent
// even when the mode is unchanged because the firmware cannot be asked
// which mode it is in.
func (p *Printer) SetCoordinateMode(ctx context.Context, mode CoordinateMode) error {
	cmd, ok := mode.command()
	if !ok {
		return hosterr.InvalidArgumentError("coordinate mode", int(mode))
	}
	if _, err := p.readyLink(); err != nil {
		return err
	}
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
	return p.SendCommand(ctx, cmd)
}

// SetSpeed stores the feed speed in mm/s and sends it in mm/min.
func (p *Printer) SetSpeed(ctx context.Context, mmPerSec float64) error {
	if !(mmPerSec > 0) {
		return hosterr.InvalidArgumentError("speed", mmPerSec)
	}
	if _, err := p.readyLink(); err != nil {
		return err
	}
	p.mu.Lock()
	p.speed = mmPerSec
	p.mu.Unlock()
	return p.SendCommand(ctx, gcode.SetFeedRate(mmPerSec))
}

// AutoHome homes the given axes. They are marked homed before the command
// goes out, so bounds checks apply even if homing then fails.
func (p *Printer) AutoHome(ctx context.Context, axes ...Axis) error {
	if len(axes) == 0 {
		return hosterr.InvalidArgumentError("axes", "none")
	}
	letters := make([]string, 0, len(axes))
	for _, a := range axes {
		if _, ok := ParseAxis(string(a)); !ok {
			return hosterr.InvalidArgumentError("axis", string(a))
		}
		letters = append(letters, string(a))
	}
	if err := p.requireInitialized(); err != nil {
		return err
	}

	p.mu.Lock()
	for _, a := range axes {
		p.homed[a] = true
	}
	p.mu.Unlock()

	if err := p.SendCommand(ctx, gcode.Home(letters...)); err != nil {
		return err
	}
	p.log.WithField("axes", letters).Info("homed")
	return nil
}

// AutoHomeXY homes X and Y.
func (p *Printer) AutoHomeXY(ctx context.Context) error {
	return p.AutoHome(ctx, AxisX, AxisY)
}

// EmergencyStop sends M112 without waiting for an exchange in progress and
// closes the link. The firmware halts on M112 and must be reset before the
// printer can be initialized again.
func (p *Printer) EmergencyStop() error {
	link, err := p.readyLink()
	if err != nil {
		return err
	}
	werr := link.WriteLine(gcode.CmdEmergencyStop)
	if werr == nil {
		p.obs.CommandSent(gcode.CmdEmergencyStop)
	}
	p.log.Warn("emergency stop")
	p.Close()
	if werr != nil {
		return hosterr.TransportError("write", werr).SetContext("command", gcode.CmdEmergencyStop)
	}
	return nil
}
