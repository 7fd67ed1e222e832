package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/tothambrus11/3d-printer-controller/pkg/printer"
)

const historyFile = ".printerctl_history"

type cliCommand struct {
	Name        string
	Usage       string
	MinArgs     int
	MaxArgs     int
	Description string
	Handler     func(ctx context.Context, sh *shell, args []string) error
}

var cliCommands = map[string]cliCommand{
	"home": {
		Name: "home", Usage: "home [X] [Y] [Z]", MinArgs: 0, MaxArgs: 3,
		Description: "Home the given axes (X and Y by default)",
		Handler:     cmdHome,
	},
	"go": {
		Name: "go", Usage: "go <dx> <dy> <dz>", MinArgs: 3, MaxArgs: 3,
		Description: "Relative move, waiting for it to finish",
		Handler:     cmdGo,
	},
	"goto": {
		Name: "goto", Usage: "goto <x|-> <y|-> <z|->", MinArgs: 1, MaxArgs: 3,
		Description: "Absolute move; - or a missing value keeps the axis",
		Handler:     cmdGoTo,
	},
	"speed": {
		Name: "speed", Usage: "speed [mm/s]", MinArgs: 0, MaxArgs: 1,
		Description: "Show or set the feed speed",
		Handler:     cmdSpeed,
	},
	"mode": {
		Name: "mode", Usage: "mode [abs|rel]", MinArgs: 0, MaxArgs: 1,
		Description: "Show or set the coordinate mode",
		Handler:     cmdMode,
	},
	"pos": {
		Name: "pos", Usage: "pos", MinArgs: 0, MaxArgs: 0,
		Description: "Ask the firmware for its position",
		Handler:     cmdPos,
	},
	"sync": {
		Name: "sync", Usage: "sync", MinArgs: 0, MaxArgs: 0,
		Description: "Reset the cached position from the firmware",
		Handler:     cmdSync,
	},
	"wait": {
		Name: "wait", Usage: "wait", MinArgs: 0, MaxArgs: 0,
		Description: "Wait until the toolhead reaches its target",
		Handler:     cmdWait,
	},
	"status": {
		Name: "status", Usage: "status", MinArgs: 0, MaxArgs: 0,
		Description: "Show the driver state",
		Handler:     cmdStatus,
	},
	"script": {
		Name: "script", Usage: "script <file.gcode>", MinArgs: 1, MaxArgs: 1,
		Description: "Stream a G-code file",
		Handler:     cmdScript,
	},
	"estop": {
		Name: "estop", Usage: "estop", MinArgs: 0, MaxArgs: 0,
		Description: "Send M112 and disconnect",
		Handler:     cmdEmergencyStop,
	},
	"send": {
		Name: "send", Usage: "send <gcode...>", MinArgs: 1, MaxArgs: 32,
		Description: "Send one raw command and wait for ok",
		Handler:     cmdSend,
	},
}

type shell struct {
	p   *printer.Printer
	out io.Writer
}

// run executes one command. A bare G or M word is sent as raw G-code.
// An interrupt cancels the command, not the shell.
func (sh *shell) run(ctx context.Context, name string, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cmd, ok := cliCommands[strings.ToLower(name)]
	if !ok {
		if isGCodeWord(name) {
			return sh.p.SendCommand(ctx, strings.Join(append([]string{name}, args...), " "))
		}
		return fmt.Errorf("unknown command %q, try help", name)
	}
	if len(args) < cmd.MinArgs || len(args) > cmd.MaxArgs {
		return fmt.Errorf("usage: %s", cmd.Usage)
	}
	return cmd.Handler(ctx, sh, args)
}

func (sh *shell) interactive(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(input string) (c []string) {
		for name := range cliCommands {
			if strings.HasPrefix(name, strings.ToLower(input)) {
				c = append(c, name)
			}
		}
		sort.Strings(c)
		return
	})

	history := historyPath()
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(sh.out, `Printer shell. Type "help" for commands, Ctrl-D to quit.`)
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt("printer> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(sh.out)
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch input {
		case "help":
			sh.help()
			continue
		case "quit", "exit":
			return nil
		}

		tokens := strings.Fields(input)
		if err := sh.run(ctx, tokens[0], tokens[1:]); err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
}

func (sh *shell) help() {
	names := make([]string, 0, len(cliCommands))
	for name := range cliCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := cliCommands[name]
		fmt.Fprintf(sh.out, "  %-26s %s\n", c.Usage, c.Description)
	}
	fmt.Fprintf(sh.out, "  %-26s %s\n", "G.../M...", "Send a raw G-code line")
}

func historyPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, historyFile)
	}
	return historyFile
}

func isGCodeWord(s string) bool {
	if len(s) < 2 {
		return false
	}
	switch s[0] {
	case 'G', 'g', 'M', 'm':
	default:
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", a)
		}
		out[i] = v
	}
	return out, nil
}

func cmdHome(ctx context.Context, sh *shell, args []string) error {
	if len(args) == 0 {
		return sh.p.AutoHomeXY(ctx)
	}
	axes := make([]printer.Axis, 0, len(args))
	for _, a := range args {
		axis, ok := printer.ParseAxis(a)
		if !ok {
			return fmt.Errorf("unknown axis %q", a)
		}
		axes = append(axes, axis)
	}
	return sh.p.AutoHome(ctx, axes...)
}

func cmdGo(ctx context.Context, sh *shell, args []string) error {
	d, err := parseFloats(args)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := sh.p.Go(ctx, d[0], d[1], d[2]); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "at %v after %v\n", sh.p.CachedPosition(), time.Since(start).Round(time.Millisecond))
	return nil
}

func cmdGoTo(ctx context.Context, sh *shell, args []string) error {
	var t printer.Target
	fields := []**float64{&t.X, &t.Y, &t.Z}
	for i, a := range args {
		if a == "-" || a == "_" {
			continue
		}
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", a)
		}
		*fields[i] = printer.Coord(v)
	}
	start := time.Now()
	if err := sh.p.GoTo(ctx, t); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "at %v after %v\n", sh.p.CachedPosition(), time.Since(start).Round(time.Millisecond))
	return nil
}

func cmdSpeed(ctx context.Context, sh *shell, args []string) error {
	if len(args) == 1 {
		v, err := parseFloats(args)
		if err != nil {
			return err
		}
		if err := sh.p.SetSpeed(ctx, v[0]); err != nil {
			return err
		}
	}
	fmt.Fprintf(sh.out, "speed %g mm/s\n", sh.p.Speed())
	return nil
}

func cmdMode(ctx context.Context, sh *shell, args []string) error {
	if len(args) == 1 {
		var mode printer.CoordinateMode
		switch strings.ToLower(args[0]) {
		case "abs", "absolute":
			mode = printer.Absolute
		case "rel", "relative":
			mode = printer.Relative
		default:
			return fmt.Errorf("unknown mode %q", args[0])
		}
		if err := sh.p.SetCoordinateMode(ctx, mode); err != nil {
			return err
		}
	}
	fmt.Fprintf(sh.out, "mode %s\n", sh.p.CoordinateMode())
	return nil
}

func cmdPos(ctx context.Context, sh *shell, args []string) error {
	s, err := sh.p.PositionSnapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "current %v\ntarget  %v\ncached  %v\n", s.Current, s.Target, sh.p.CachedPosition())
	return nil
}

func cmdSync(ctx context.Context, sh *shell, args []string) error {
	v, err := sh.p.SyncPosition(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "cached position set to %v\n", v)
	return nil
}

func cmdWait(ctx context.Context, sh *shell, args []string) error {
	return sh.p.WaitForMotors(ctx, printer.RelativePollInterval)
}

func cmdStatus(ctx context.Context, sh *shell, args []string) error {
	homed := ""
	for _, a := range sh.p.HomedAxes() {
		homed += string(a)
	}
	if homed == "" {
		homed = "none"
	}
	env := sh.p.Envelope()
	fmt.Fprintf(sh.out, "state    %s\nmode     %s\nhomed    %s\nspeed    %g mm/s\nposition %v\nenvelope %v\n",
		sh.p.State(), sh.p.CoordinateMode(), homed, sh.p.Speed(), sh.p.CachedPosition(), printer.Vector3D(env))
	return nil
}

func cmdScript(ctx context.Context, sh *shell, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	n, err := sh.p.RunScript(ctx, f)
	fmt.Fprintf(sh.out, "%d commands in %v\n", n, time.Since(start).Round(time.Millisecond))
	return err
}

func cmdSend(ctx context.Context, sh *shell, args []string) error {
	return sh.p.SendCommand(ctx, strings.Join(args, " "))
}

func cmdEmergencyStop(ctx context.Context, sh *shell, args []string) error {
	if err := sh.p.EmergencyStop(); err != nil {
		return err
	}
	fmt.Fprintln(sh.out, "emergency stop sent, printer disconnected")
	return nil
}
