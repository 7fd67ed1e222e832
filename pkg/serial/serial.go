// Package serial opens the byte link to the printer firmware and frames it
// into response lines.
//
// Several backends are available: raw termios on Linux and macOS,
// github.com/tarm/serial, go.bug.st/serial, and a plain TCP socket for
// network bridges and the firmware simulator.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial/enumerator"
)

// Common errors
var (
	ErrTimeout = errors.New("serial: operation timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Backend names a port implementation.
type Backend string

const (
	BackendTermios Backend = "termios"
	BackendTarm    Backend = "tarm"
	BackendBugst   Backend = "bugst"
	BackendTCP     Backend = "tcp"
)

// Config holds serial port configuration.
type Config struct {
	// Device path (/dev/ttyUSB0, COM3) or host:port for the tcp backend.
	Device string

	// Backend selects the implementation (default: termios).
	Backend Backend

	// Baud rate (default: 115200). Ignored by the tcp backend.
	BaudRate int

	// ReadTimeout bounds a single read so a closing link is noticed.
	// Backends retry on timeout; it is not an idle limit for the link.
	ReadTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Backend:     BackendTermios,
		BaudRate:    115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendTermios
	}
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
}

// Open opens the port described by cfg.
func Open(ctx context.Context, cfg Config) (io.ReadWriteCloser, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	cfg.applyDefaults()

	switch cfg.Backend {
	case BackendTermios:
		return openBounded(ctx, func() (io.ReadWriteCloser, error) { return openTermios(cfg) })
	case BackendTarm:
		return openBounded(ctx, func() (io.ReadWriteCloser, error) { return openTarm(cfg) })
	case BackendBugst:
		return openBounded(ctx, func() (io.ReadWriteCloser, error) { return openBugst(cfg) })
	case BackendTCP:
		return openTCP(ctx, cfg)
	default:
		return nil, fmt.Errorf("serial: unknown backend %q", cfg.Backend)
	}
}

// openBounded runs a blocking open until ctx is done. A port that opens
// after the caller gave up is closed.
func openBounded(ctx context.Context, open func() (io.ReadWriteCloser, error)) (io.ReadWriteCloser, error) {
	type result struct {
		rwc io.ReadWriteCloser
		err error
	}
	ch := make(chan result, 1)
	go func() {
		rwc, err := open()
		ch <- result{rwc, err}
	}()

	select {
	case r := <-ch:
		return r.rwc, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				r.rwc.Close()
			}
		}()
		return nil, fmt.Errorf("serial: open: %w", ctx.Err())
	}
}

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// String renders the port the way the CLI lists it.
func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", p.Name, p.VID, p.PID)
	if p.Product != "" {
		s += " " + p.Product
	}
	if p.SerialNumber != "" {
		s += " serial=" + p.SerialNumber
	}
	return s
}

// ListPorts returns the serial ports visible on this host.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: enumerate ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}
