package printer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tothambrus11/3d-printer-controller/pkg/bus"
	hosterr "github.com/tothambrus11/3d-printer-controller/pkg/errors"
	"github.com/tothambrus11/3d-printer-controller/pkg/gcode"
	"github.com/tothambrus11/3d-printer-controller/pkg/log"
)

type commandOptions struct {
	ack bool
}

// CommandOption adjusts SendCommand and SendGCode.
type CommandOption func(*commandOptions)

// NoAck sends without waiting for the firmware's acknowledgement.
func NoAck() CommandOption {
	return func(o *commandOptions) { o.ack = false }
}

// SendCommand writes one command line and, unless NoAck is given, waits
// for the acknowledgement.
func (p *Printer) SendCommand(ctx context.Context, text string, opts ...CommandOption) error {
	o := commandOptions{ack: true}
	for _, opt := range opts {
		opt(&o)
	}
	link, err := p.readyLink()
	if err != nil {
		return err
	}

	p.exchange.Lock()
	defer p.exchange.Unlock()
	return p.send(ctx, link, text, o.ack)
}

// SendGCode writes lines as one transmission. With an acknowledgement
// expected it waits for a single "ok", like SendCommand.
func (p *Printer) SendGCode(ctx context.Context, lines []string, opts ...CommandOption) error {
	if len(lines) == 0 {
		return hosterr.InvalidArgumentError("gcode", "empty")
	}
	return p.SendCommand(ctx, strings.Join(lines, "\n"), opts...)
}

// send performs one exchange. Callers hold p.exchange. The ack wait is
// armed before the write so a fast reply cannot be missed.
func (p *Printer) send(ctx context.Context, link Link, text string, ack bool) error {
	var pending *bus.Pending
	if ack {
		pending = link.Bus().Expect(bus.Equals(gcode.AckToken))
	}

	start := time.Now()
	if err := link.WriteLine(text); err != nil {
		if pending != nil {
			pending.Cancel()
		}
		p.log.WithError(err).WithField("command", text).Error("write failed")
		return hosterr.TransportError("write", err).SetContext("command", text)
	}
	p.obs.CommandSent(commandName(text))
	if p.log.Enabled(log.DEBUG) {
		p.log.WithFields(log.Fields{"command": text, "ack": ack}).Debug("command sent")
	}
	if !ack {
		return nil
	}

	if _, err := p.await(ctx, pending, p.cfg.AckTimeout, "acknowledgement of "+commandName(text)); err != nil {
		return err
	}
	p.obs.Acknowledged(time.Since(start))
	return nil
}

// await resolves a pending wait bounded by timeout and ctx, mapping the
// failure to the driver's error kinds.
func (p *Printer) await(ctx context.Context, pending *bus.Pending, timeout time.Duration, what string) (string, error) {
	wctx, cancel := withBound(ctx, timeout)
	defer cancel()

	line, err := pending.Wait(wctx)
	switch {
	case err == nil:
		return line, nil
	case errors.Is(err, bus.ErrClosed):
		return "", hosterr.TransportError("read", err).SetContext("waiting_for", what)
	case errors.Is(err, context.DeadlineExceeded):
		p.obs.Timeout(what)
		p.log.WithField("waiting_for", what).Warn("wait timed out")
		return "", hosterr.TimeoutError(what, err)
	default:
		return "", err
	}
}

// commandName returns the first word of the first line, "G0" for
// "G0 X1 Y2 Z3".
func commandName(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if f := strings.Fields(text); len(f) > 0 {
		return strings.ToUpper(f[0])
	}
	return ""
}
