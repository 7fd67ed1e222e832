// Package simulator emulates the subset of Marlin firmware the printer
// driver talks to. It is used by the driver tests and by cmd/mock-firmware.
package simulator

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tothambrus11/3d-printer-controller/pkg/gcode"
	"github.com/tothambrus11/3d-printer-controller/pkg/log"
)

// Options tune the simulated firmware.
type Options struct {
	// SettlePolls is the number of position reports after a move in which
	// the current position still lags the target.
	SettlePolls int

	// Banner lines are sent when Serve starts.
	Banner []string

	// Mute, when set, suppresses every reply to commands it returns true
	// for. Used to emulate a lost acknowledgement.
	Mute func(command string) bool
}

// Firmware is a Marlin-like command interpreter.
type Firmware struct {
	mu sync.Mutex

	opts     Options
	relative bool
	target   gcode.Point
	current  gcode.Point
	feed     float64 // mm/min
	homed    map[string]bool
	lagging  int
	halted   bool
	received []string

	log *log.Logger
}

// New creates firmware at the origin in absolute mode.
func New(opts Options) *Firmware {
	return &Firmware{
		opts:  opts,
		homed: make(map[string]bool),
		log:   log.GetLogger("simulator"),
	}
}

// Handle interprets one command line and returns the reply lines.
func (f *Firmware) Handle(line string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	f.received = append(f.received, line)

	if f.halted {
		return nil
	}
	if f.opts.Mute != nil && f.opts.Mute(line) {
		f.log.WithField("command", line).Debug("reply muted")
		return nil
	}

	cmd, err := gcode.ParseCommand(line)
	if err != nil {
		return []string{"echo:Unknown command: \"" + line + "\"", gcode.AckToken}
	}
	if cmd == nil {
		return []string{gcode.AckToken}
	}

	switch cmd.Name {
	case gcode.CmdAbsolute:
		f.relative = false
	case gcode.CmdRelative:
		f.relative = true
	case gcode.CmdHome:
		f.home(cmd.Axes())
	case gcode.CmdRapidMove, gcode.CmdLinearMove:
		if err := f.move(cmd); err != nil {
			return []string{"Error:" + err.Error(), gcode.AckToken}
		}
	case gcode.CmdReportPosition:
		return []string{f.report()}
	case gcode.CmdEmergencyStop:
		f.halted = true
		return []string{"Error:Printer halted. kill() called!"}
	default:
		return []string{"echo:Unknown command: \"" + cmd.Name + "\"", gcode.AckToken}
	}
	return []string{gcode.AckToken}
}

func (f *Firmware) home(axes []string) {
	for _, axis := range axes {
		f.homed[axis] = true
		switch axis {
		case "X":
			f.target.X, f.current.X = 0, 0
		case "Y":
			f.target.Y, f.current.Y = 0, 0
		case "Z":
			f.target.Z, f.current.Z = 0, 0
		}
	}
}

func (f *Firmware) move(cmd *gcode.Command) error {
	if feed, ok, err := cmd.Float("F"); err != nil {
		return err
	} else if ok {
		f.feed = feed
	}

	next := f.target
	moved := false
	for _, axis := range []struct {
		letter string
		v      *float64
	}{{"X", &next.X}, {"Y", &next.Y}, {"Z", &next.Z}} {
		v, ok, err := cmd.Float(axis.letter)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if f.relative {
			*axis.v += v
		} else {
			*axis.v = v
		}
		moved = true
	}
	if !moved {
		return nil
	}

	f.target = next
	if f.opts.SettlePolls <= 0 {
		f.current = next
	} else {
		f.lagging = f.opts.SettlePolls
	}
	return nil
}

// report renders an M114 reply, target triple first. The current position
// catches up with the target once the lag has been reported.
func (f *Firmware) report() string {
	line := fmt.Sprintf("X:%.2f Y:%.2f Z:%.2f E:0.00 Count X:%.2f Y:%.2f Z:%.2f",
		f.target.X, f.target.Y, f.target.Z, f.current.X, f.current.Y, f.current.Z)
	if f.lagging > 0 {
		f.lagging--
		if f.lagging == 0 {
			f.current = f.target
		}
	}
	return line
}

// Serve reads commands from rw and writes replies until the reader ends.
func (f *Firmware) Serve(rw io.ReadWriter) error {
	for _, line := range f.opts.Banner {
		if _, err := io.WriteString(rw, line+"\n"); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		f.log.WithField("line", scanner.Text()).Debug("received")
		for _, reply := range f.Handle(scanner.Text()) {
			if _, err := io.WriteString(rw, reply+"\n"); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// Received returns a copy of every non-blank command seen so far.
func (f *Firmware) Received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

// Reset forgets the recorded commands and clears a halt.
func (f *Firmware) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = nil
	f.halted = false
}

// Position returns the target and current positions.
func (f *Firmware) Position() (target, current gcode.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target, f.current
}

// Relative reports whether the firmware is in relative positioning mode.
func (f *Firmware) Relative() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relative
}

// FeedRate returns the last F word in mm/min.
func (f *Firmware) FeedRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feed
}

// Halted reports whether M112 was received. A halted firmware answers
// nothing until Reset.
func (f *Firmware) Halted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted
}

// Homed reports whether axis has been homed.
func (f *Firmware) Homed(axis string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.homed[axis]
}
