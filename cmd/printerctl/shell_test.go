package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tothambrus11/3d-printer-controller/pkg/printer"
	"github.com/tothambrus11/3d-printer-controller/pkg/serial"
	"github.com/tothambrus11/3d-printer-controller/pkg/simulator"
)

func newTestShell(t *testing.T) (*shell, *simulator.Firmware, *bytes.Buffer) {
	t.Helper()
	fw := simulator.New(simulator.Options{})
	p := printer.New(printer.DefaultConfig(), func(context.Context) (printer.Link, error) {
		return serial.NewLink(simulator.NewPipe(fw)), nil
	}, printer.WithSleep(func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	}))
	t.Cleanup(func() { p.Close() })
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	fw.Reset()
	out := &bytes.Buffer{}
	return &shell{p: p, out: out}, fw, out
}

func moves(fw *simulator.Firmware) []string {
	var out []string
	for _, c := range fw.Received() {
		if c != "M114" {
			out = append(out, c)
		}
	}
	return out
}

func TestShellCommands(t *testing.T) {
	sh, fw, out := newTestShell(t)
	ctx := context.Background()

	steps := [][]string{
		{"home"},
		{"go", "10", "20", "0"},
		{"goto", "-", "-", "5"},
		{"speed", "30"},
		{"mode", "rel"},
		{"G28", "Z"},
		{"send", "M400"},
	}
	for _, s := range steps {
		if err := sh.run(ctx, s[0], s[1:]); err != nil {
			t.Fatalf("%v: %v", s, err)
		}
	}

	want := []string{
		"G28 X Y",
		"G91", "G0 X10 Y20 Z0",
		"G90", "G1 X10 Y20 Z5",
		"G0 F1800",
		"G91",
		"G28 Z",
		"M400",
	}
	if got := moves(fw); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("firmware received %q, want %q", got, want)
	}
	if !strings.Contains(out.String(), "speed 30 mm/s") || !strings.Contains(out.String(), "mode relative") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestShellErrors(t *testing.T) {
	sh, fw, _ := newTestShell(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown", []string{"fly"}, "unknown command"},
		{"usage", []string{"go", "1"}, "usage: go"},
		{"not a number", []string{"go", "1", "x", "2"}, "not a number"},
		{"bad axis", []string{"home", "Q"}, "unknown axis"},
		{"bad mode", []string{"mode", "sideways"}, "unknown mode"},
		{"out of range", []string{"goto", "999"}, "out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sh.run(ctx, tt.args[0], tt.args[1:])
			if err == nil || !strings.Contains(strings.ToLower(err.Error()), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
	if len(fw.Received()) != 0 {
		t.Errorf("firmware received %q", fw.Received())
	}
}

func TestShellScriptAndStatus(t *testing.T) {
	sh, fw, out := newTestShell(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "part.gcode")
	if err := os.WriteFile(path, []byte("; park\nG90\nG0 X1 Y2 Z3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := sh.run(ctx, "script", []string{path}); err != nil {
		t.Fatalf("script: %v", err)
	}
	if got := moves(fw); strings.Join(got, "|") != "G90|G0 X1 Y2 Z3" {
		t.Errorf("firmware received %q", got)
	}

	out.Reset()
	if err := sh.run(ctx, "status", nil); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"state    ready", "mode     absolute", "homed    none", "position (1, 2, 3)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := sh.run(ctx, "pos", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "current (1, 2, 3)") {
		t.Errorf("pos output:\n%s", out.String())
	}
}

func TestIsGCodeWord(t *testing.T) {
	tests := map[string]bool{
		"G0":   true,
		"g28":  true,
		"M114": true,
		"G":    false,
		"home": false,
		"Gx":   false,
		"X10":  false,
	}
	for in, want := range tests {
		if got := isGCodeWord(in); got != want {
			t.Errorf("isGCodeWord(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestShellEmergencyStop(t *testing.T) {
	sh, fw, out := newTestShell(t)

	if err := sh.run(context.Background(), "estop", nil); err != nil {
		t.Fatalf("estop: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !fw.Halted() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := fw.Received(); len(got) != 1 || got[0] != "M112" {
		t.Errorf("firmware received %q", got)
	}
	if !strings.Contains(out.String(), "disconnected") {
		t.Errorf("output:\n%s", out.String())
	}
	if err := sh.run(context.Background(), "go", []string{"1", "0", "0"}); err == nil {
		t.Error("go after estop succeeded")
	}
}
