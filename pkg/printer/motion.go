package printer

import (
	"context"
	"time"

	hosterr "github.com/tothambrus11/3d-printer-controller/pkg/errors"
	"github.com/tothambrus11/3d-printer-controller/pkg/gcode"
	"github.com/tothambrus11/3d-printer-controller/pkg/log"
)

// Poll intervals used while waiting for a move to settle.
const (
	RelativePollInterval = 50 * time.Millisecond
	AbsolutePollInterval = 10 * time.Millisecond
)

type moveOptions struct {
	wait bool
}

// MoveOption adjusts Go.
type MoveOption func(*moveOptions)

// WithoutWait returns as soon as the move is acknowledged.
func WithoutWait() MoveOption {
	return func(o *moveOptions) { o.wait = false }
}

// Go moves the toolhead by (dx, dy, dz) in relative mode. Each homed axis
// the move touches must stay within the envelope; otherwise nothing is
// sent. The cached position advances once the command is acknowledged,
// whether or not the move is later confirmed.
func (p *Printer) Go(ctx context.Context, dx, dy, dz float64, opts ...MoveOption) error {
	o := moveOptions{wait: true}
	for _, opt := range opts {
		opt(&o)
	}
	if err := p.requireInitialized(); err != nil {
		return err
	}

	delta := Vector3D{dx, dy, dz}
	p.mu.RLock()
	next := p.position.Add(delta)
	homed := map[Axis]bool{AxisX: p.homed[AxisX], AxisY: p.homed[AxisY], AxisZ: p.homed[AxisZ]}
	p.mu.RUnlock()

	for _, axis := range Axes {
		if delta.Get(axis) == 0 || !homed[axis] {
			continue
		}
		if err := p.checkBounds(axis, next.Get(axis)); err != nil {
			return err
		}
	}

	if err := p.SetCoordinateMode(ctx, Relative); err != nil {
		return err
	}
	if err := p.SendCommand(ctx, gcode.Move(dz == 0, dx, dy, dz)); err != nil {
		return err
	}
	p.obs.MoveIssued("relative")

	var waitErr error
	if o.wait {
		waitErr = p.WaitForMotorsDelta(ctx, RelativePollInterval, delta)
	}

	p.mu.Lock()
	p.position = next
	p.mu.Unlock()
	p.logMove("relative move", next)
	return waitErr
}

// GoTo moves to an absolute target. Components left nil keep their cached
// value. The whole target must lie within the envelope whether or not the
// axes are homed.
func (p *Printer) GoTo(ctx context.Context, t Target) error {
	if err := p.requireInitialized(); err != nil {
		return err
	}

	p.mu.RLock()
	from := p.position
	p.mu.RUnlock()
	to := t.resolve(from)

	for _, axis := range Axes {
		if err := p.checkBounds(axis, to.Get(axis)); err != nil {
			return err
		}
	}

	if err := p.SetCoordinateMode(ctx, Absolute); err != nil {
		return err
	}
	if err := p.SendCommand(ctx, gcode.Move(to.Z == from.Z, to.X, to.Y, to.Z)); err != nil {
		return err
	}
	p.obs.MoveIssued("absolute")

	waitErr := p.WaitForMotorsDelta(ctx, AbsolutePollInterval, to.Sub(from))

	p.mu.Lock()
	p.position = to
	p.mu.Unlock()
	p.logMove("absolute move", to)
	return waitErr
}

// GoToPosition moves to v on all three axes.
func (p *Printer) GoToPosition(ctx context.Context, v Vector3D) error {
	return p.GoTo(ctx, Target{X: Coord(v.X), Y: Coord(v.Y), Z: Coord(v.Z)})
}

// SyncPosition replaces the cached position with the firmware's current
// position. A move still in progress is not waited for.
func (p *Printer) SyncPosition(ctx context.Context) (Vector3D, error) {
	s, err := p.PositionSnapshot(ctx)
	if err != nil {
		return Vector3D{}, err
	}
	p.mu.Lock()
	p.position = s.Current
	p.mu.Unlock()
	return s.Current, nil
}

func (p *Printer) checkBounds(axis Axis, coord float64) error {
	if p.cfg.Envelope.Contains(axis, coord) {
		return nil
	}
	p.obs.MoveRejected(axis)
	limit := Vector3D(p.cfg.Envelope).Get(axis)
	p.log.WithFields(log.Fields{"axis": string(axis), "coord": coord, "max": limit}).Warn("move rejected")
	return hosterr.OutOfBoundsError(string(axis), coord, limit)
}

func (p *Printer) logMove(msg string, to Vector3D) {
	if p.log.Enabled(log.DEBUG) {
		p.log.WithField("position", to.String()).Debug(msg)
	}
}
