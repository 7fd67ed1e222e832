package printer

import (
	"context"

	"github.com/tothambrus11/3d-printer-controller/pkg/bus"
	"github.com/tothambrus11/3d-printer-controller/pkg/gcode"
)

// PositionSnapshot asks the firmware for its position with M114. The
// report line is the reply; no acknowledgement follows it.
func (p *Printer) PositionSnapshot(ctx context.Context) (PositionSnapshot, error) {
	link, err := p.readyLink()
	if err != nil {
		return PositionSnapshot{}, err
	}

	p.exchange.Lock()
	defer p.exchange.Unlock()

	pending := link.Bus().Expect(bus.HasPrefix(gcode.ReportPrefix))
	if err := p.send(ctx, link, gcode.CmdReportPosition, false); err != nil {
		pending.Cancel()
		return PositionSnapshot{}, err
	}
	line, err := p.await(ctx, pending, p.cfg.TelemetryTimeout, "position report")
	if err != nil {
		return PositionSnapshot{}, err
	}

	report, err := gcode.ParsePositionReport(line)
	if err != nil {
		p.obs.ProtocolError()
		p.log.WithError(err).WithField("line", line).Warn("bad position report")
		return PositionSnapshot{}, err
	}
	snap := PositionSnapshot{
		Current: fromPoint(report.Current),
		Target:  fromPoint(report.Target),
	}
	p.obs.TelemetryRead(snap)
	return snap, nil
}

// CurrentPosition returns where the firmware says the toolhead is.
func (p *Printer) CurrentPosition(ctx context.Context) (Vector3D, error) {
	s, err := p.PositionSnapshot(ctx)
	return s.Current, err
}

// TargetPosition returns where the firmware is moving the toolhead to.
func (p *Printer) TargetPosition(ctx context.Context) (Vector3D, error) {
	s, err := p.PositionSnapshot(ctx)
	return s.Target, err
}
