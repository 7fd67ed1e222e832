package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadString(t *testing.T) {
	data := `
# host settings
[serial]
device: /dev/ttyACM0
baud = 250000   ; Marlin default on many boards

[printer]
max_x: 220
max_y: 220
max_z: 250
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	if !cfg.HasSection("serial") || !cfg.HasSection("printer") {
		t.Fatalf("expected [serial] and [printer], got %v", cfg.SectionNames())
	}
	if cfg.HasSection("nonexistent") {
		t.Error("expected [nonexistent] section to not exist")
	}

	serial := cfg.Section("serial")
	if dev, _ := serial.Get("device"); dev != "/dev/ttyACM0" {
		t.Errorf("expected '/dev/ttyACM0', got '%s'", dev)
	}
	if baud, _ := serial.GetInt("baud"); baud != 250000 {
		t.Errorf("expected 250000, got %d", baud)
	}

	names := cfg.SectionNames()
	if len(names) != 2 || names[0] != "serial" || names[1] != "printer" {
		t.Errorf("section order = %v", names)
	}
}

func TestLoadStringErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty header", "[]\nkey: v"},
		{"option before section", "key: v\n[serial]"},
		{"malformed line", "[serial]\njust words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadString(tt.data); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestSectionGetters(t *testing.T) {
	cfg, err := LoadString(`
[test]
address: localhost:7125
int_val: 42
float_val: 3.14
seconds: 1.5
`)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	sec := cfg.Section("test")

	if v, _ := sec.Get("address"); v != "localhost:7125" {
		t.Errorf("address = %q, value must keep its colon", v)
	}
	if v, _ := sec.Get("missing", "default"); v != "default" {
		t.Errorf("expected 'default', got '%s'", v)
	}
	if i, _ := sec.GetInt("missing", 99); i != 99 {
		t.Errorf("expected 99, got %d", i)
	}
	if i, _ := sec.GetInt("int_val"); i != 42 {
		t.Errorf("expected 42, got %d", i)
	}
	if f, _ := sec.GetFloat("float_val"); f != 3.14 {
		t.Errorf("expected 3.14, got %f", f)
	}
	if d, _ := sec.GetDuration("seconds"); d != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d)
	}
	if d, _ := sec.GetDuration("missing", time.Minute); d != time.Minute {
		t.Errorf("expected fallback, got %v", d)
	}
	if _, err := sec.GetInt("float_val"); err == nil {
		t.Error("expected invalid integer error")
	}
}

func TestUnusedOptions(t *testing.T) {
	cfg, _ := LoadString(`
[serial]
device: /dev/ttyUSB0
buad: 115200
`)
	sec := cfg.Section("serial")
	sec.Get("device")

	unused := sec.UnusedOptions()
	if len(unused) != 1 || unused[0] != "buad" {
		t.Errorf("unused = %v", unused)
	}

	err := cfg.CheckUnused("serial")
	if err == nil || !strings.Contains(err.Error(), "buad") {
		t.Errorf("expected typo to be reported, got %v", err)
	}
}

func TestGetChoice(t *testing.T) {
	cfg, _ := LoadString("[serial]\nbackend: TARM\nother: usb")
	sec := cfg.Section("serial")

	v, err := sec.GetChoice("backend", SerialBackends)
	if err != nil || v != "tarm" {
		t.Errorf("GetChoice = %q, %v", v, err)
	}
	if _, err := sec.GetChoice("other", SerialBackends); err == nil {
		t.Error("expected invalid choice error")
	}
}

func TestBoundsChecking(t *testing.T) {
	cfg, _ := LoadString("[printer]\nmax_x: 0\nmax_y: -5\nspeed: 80")
	sec := cfg.Section("printer")
	positive := FloatBounds{Above: Float(0)}

	if _, err := sec.GetFloatWithBounds("max_x", positive); err == nil {
		t.Error("0 should fail Above 0")
	}
	if _, err := sec.GetFloatWithBounds("max_y", FloatBounds{MinVal: Float(0)}); err == nil {
		t.Error("-5 should fail MinVal 0")
	}
	if _, err := sec.GetFloatWithBounds("speed", FloatBounds{MaxVal: Float(50)}); err == nil {
		t.Error("80 should fail MaxVal 50")
	}
	if v, err := sec.GetFloatWithBounds("speed", positive); err != nil || v != 80 {
		t.Errorf("speed = %v, %v", v, err)
	}
}

func TestMissingOptionError(t *testing.T) {
	cfg, _ := LoadString("[serial]\ndevice: /dev/ttyUSB0")
	_, err := cfg.Section("serial").Get("baud")

	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cerr.Section != "serial" || cerr.Option != "baud" {
		t.Errorf("unexpected error context: %+v", cerr)
	}
	if !strings.Contains(err.Error(), "must be specified") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestIncludeAndMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "machine.cfg"), "[printer]\nmax_x: 300\nmax_y: 300\n")
	writeFile(t, filepath.Join(dir, "printer.cfg"), "[include machine.cfg]\n[printer]\nmax_y: 250\n")

	cfg, err := Load(filepath.Join(dir, "printer.cfg"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sec := cfg.Section("printer")
	if x, _ := sec.GetFloat("max_x"); x != 300 {
		t.Errorf("max_x = %v, want included 300", x)
	}
	if y, _ := sec.GetFloat("max_y"); y != 250 {
		t.Errorf("max_y = %v, want overriding 250", y)
	}
}

func TestRecursiveInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.cfg"), "[include b.cfg]\n")
	writeFile(t, filepath.Join(dir, "b.cfg"), "[include a.cfg]\n")

	if _, err := Load(filepath.Join(dir, "a.cfg")); err == nil {
		t.Error("expected recursive include error")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
