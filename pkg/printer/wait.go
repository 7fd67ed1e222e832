package printer

import (
	"context"
	"errors"
	"time"

	hosterr "github.com/tothambrus11/3d-printer-controller/pkg/errors"
)

// WaitForMotors waits for the move in progress, estimating its length from
// a position report.
func (p *Printer) WaitForMotors(ctx context.Context, poll time.Duration) error {
	return p.waitForMotors(ctx, poll, nil)
}

// WaitForMotorsDelta waits for a move of displacement d. Zero components
// are real zeros.
func (p *Printer) WaitForMotorsDelta(ctx context.Context, poll time.Duration, d Vector3D) error {
	return p.waitForMotors(ctx, poll, &d)
}

// waitForMotors sleeps for the nominal travel time |d| / speed, then polls
// M114 every poll interval until SettleReads consecutive reports show the
// toolhead at its target.
func (p *Printer) waitForMotors(ctx context.Context, poll time.Duration, d *Vector3D) error {
	ctx, cancel := withBound(ctx, p.cfg.MotionTimeout)
	defer cancel()

	if d == nil {
		s, err := p.PositionSnapshot(ctx)
		if err != nil {
			return p.motionErr(err)
		}
		delta := s.Target.Sub(s.Current)
		d = &delta
	}

	if speed := p.Speed(); speed > 0 {
		travel := time.Duration(d.Length() / speed * float64(time.Second))
		if err := p.sleep(ctx, travel); err != nil {
			return p.motionErr(err)
		}
	}

	settled := 0
	for {
		s, err := p.PositionSnapshot(ctx)
		if err != nil {
			return p.motionErr(err)
		}
		if s.Settled() {
			settled++
			if settled >= p.cfg.SettleReads {
				return nil
			}
		} else {
			settled = 0
		}
		if err := p.sleep(ctx, poll); err != nil {
			return p.motionErr(err)
		}
	}
}

// motionErr reports an expired motion bound as a timeout of the move
// itself rather than of whatever step was running.
func (p *Printer) motionErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !hosterr.IsTimeout(err) {
		p.obs.Timeout("motion")
		return hosterr.TimeoutError("motion", err)
	}
	return err
}
