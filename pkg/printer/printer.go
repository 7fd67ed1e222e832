// Printer host driver
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package printer drives Marlin-class firmware over a line link: it
// correlates acknowledgements and position reports with the commands that
// caused them, keeps the position and mode state, bounds-checks moves
// against the machine envelope and waits for motion to finish.
package printer

import (
	"context"
	"sync"
	"time"

	"github.com/tothambrus11/3d-printer-controller/pkg/bus"
	hosterr "github.com/tothambrus11/3d-printer-controller/pkg/errors"
	"github.com/tothambrus11/3d-printer-controller/pkg/log"
)

// Link is the line transport the driver talks through. *serial.Link
// implements it.
type Link interface {
	WriteLine(text string) error
	Bus() *bus.Bus
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens the link. Init calls it once, bounded by ConnectGrace.
type DialFunc func(ctx context.Context) (Link, error)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customises a Printer.
type Option func(*Printer)

// WithObserver reports driver events to o.
func WithObserver(o Observer) Option {
	return func(p *Printer) { p.obs = o }
}

// WithSleep replaces the clock used by motion waits.
func WithSleep(s SleepFunc) Option {
	return func(p *Printer) { p.sleep = s }
}

// WithLogger replaces the component logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Printer) { p.log = l }
}

// Printer is a connection to one firmware instance.
type Printer struct {
	cfg   Config
	dial  DialFunc
	obs   Observer
	sleep SleepFunc
	log   *log.Logger

	// exchange serializes a command write with the wait for its reply.
	exchange sync.Mutex

	mu          sync.RWMutex
	state       ConnectionState
	link        Link
	dialed      bool
	initialized bool
	mode        CoordinateMode
	position    Vector3D
	homed       map[Axis]bool
	speed       float64
}

// New creates a driver in the Connecting state. Nothing is opened until
// Init.
func New(cfg Config, dial DialFunc, opts ...Option) *Printer {
	if cfg.SettleReads < 1 {
		cfg.SettleReads = 1
	}
	p := &Printer{
		cfg:   cfg,
		dial:  dial,
		obs:   nopObserver{},
		sleep: sleepContext,
		log:   log.GetLogger("printer"),
		state: Connecting,
		homed: make(map[Axis]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.obs.StateChanged(Connecting)
	return p
}

// Init opens the link, puts the firmware in relative mode at the origin
// and sends the configured speed. It fails with a transport error when the
// link does not open within ConnectGrace, and with NotReady when called
// more than once.
func (p *Printer) Init(ctx context.Context) error {
	p.mu.Lock()
	if p.dialed || p.state != Connecting {
		state := p.state
		p.mu.Unlock()
		return hosterr.NotReadyError(state.String())
	}
	p.dialed = true
	p.mu.Unlock()

	dctx, cancel := withBound(ctx, p.cfg.ConnectGrace)
	link, err := p.dial(dctx)
	cancel()
	if err != nil {
		p.setState(Disconnected)
		p.log.WithError(err).Error("failed to open link")
		return hosterr.TransportError("open", err)
	}

	p.mu.Lock()
	if p.state != Connecting {
		// Closed while dialing.
		p.mu.Unlock()
		link.Close()
		return hosterr.NotReadyError(Disconnected.String())
	}
	p.link = link
	p.state = Ready
	p.mu.Unlock()
	p.obs.StateChanged(Ready)
	go p.watch(link)
	p.log.Info("link open")

	if err := p.SetCoordinateMode(ctx, Relative); err != nil {
		return err
	}
	p.mu.Lock()
	p.position = Vector3D{}
	p.mu.Unlock()
	if err := p.SetSpeed(ctx, p.cfg.Speed); err != nil {
		return err
	}

	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	p.log.WithField("speed", p.cfg.Speed).Info("printer initialized")
	return nil
}

// watch marks the printer disconnected once the link's read side ends.
func (p *Printer) watch(link Link) {
	<-link.Done()
	p.mu.Lock()
	if p.link != link || p.state != Ready {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.log.Warn("link closed by firmware side")
	p.setState(Disconnected)
}

func (p *Printer) setState(s ConnectionState) {
	p.mu.Lock()
	changed := p.state != s
	p.state = s
	if s != Ready {
		p.initialized = false
	}
	p.mu.Unlock()
	if changed {
		p.obs.StateChanged(s)
	}
}

// Close disconnects. Pending waits fail and later calls return NotReady.
func (p *Printer) Close() error {
	p.mu.Lock()
	link := p.link
	p.mu.Unlock()
	p.setState(Disconnected)
	if link == nil {
		return nil
	}
	return link.Close()
}

// readyLink returns the open link, or NotReady.
func (p *Printer) readyLink() (Link, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != Ready || p.link == nil {
		return nil, hosterr.NotReadyError(p.state.String())
	}
	return p.link, nil
}

// requireInitialized guards motion commands.
func (p *Printer) requireInitialized() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		if p.state == Ready {
			return hosterr.NotReadyError("initializing")
		}
		return hosterr.NotReadyError(p.state.String())
	}
	return nil
}

// Subscribe delivers every firmware line to h until the subscription is
// cancelled or the link closes.
func (p *Printer) Subscribe(h bus.Handler) (*bus.Subscription, error) {
	link, err := p.readyLink()
	if err != nil {
		return nil, err
	}
	return link.Bus().Subscribe(h), nil
}

// State returns the connection state.
func (p *Printer) State() ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// CoordinateMode returns the last mode sent to the firmware.
func (p *Printer) CoordinateMode() CoordinateMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// CachedPosition returns the intended position. It reflects every issued
// move and is only corrected from the firmware by SyncPosition.
func (p *Printer) CachedPosition() Vector3D {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

// HomedAxes returns the homed axes in X, Y, Z order.
func (p *Printer) HomedAxes() []Axis {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var axes []Axis
	for _, a := range Axes {
		if p.homed[a] {
			axes = append(axes, a)
		}
	}
	return axes
}

// Speed returns the feed speed in mm/s.
func (p *Printer) Speed() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speed
}

// Envelope returns the machine limits.
func (p *Printer) Envelope() Envelope {
	return p.cfg.Envelope
}

func withBound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
