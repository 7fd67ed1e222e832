package printer

import (
	"time"

	"github.com/tothambrus11/3d-printer-controller/pkg/config"
)

// Config holds the driver settings.
type Config struct {
	// Envelope bounds every axis to [0, max].
	Envelope Envelope

	// Speed is the feed speed in mm/s sent during Init.
	Speed float64

	// ConnectGrace bounds how long Init waits for the link to open.
	ConnectGrace time.Duration

	// Wait bounds; zero means unbounded.
	AckTimeout       time.Duration
	TelemetryTimeout time.Duration
	MotionTimeout    time.Duration

	// SettleReads is how many consecutive settled position reports end a
	// motion wait.
	SettleReads int
}

// DefaultConfig returns the settings used for a 200mm cube printer.
func DefaultConfig() Config {
	return Config{
		Envelope:         Envelope{X: 200, Y: 200, Z: 200},
		Speed:            60,
		ConnectGrace:     time.Second,
		AckTimeout:       2 * time.Minute,
		TelemetryTimeout: 10 * time.Second,
		MotionTimeout:    10 * time.Minute,
		SettleReads:      1,
	}
}

// ConfigFrom maps a loaded printer.cfg onto driver settings.
func ConfigFrom(pc *config.PrinterConfig) Config {
	return Config{
		Envelope:         Envelope{X: pc.Machine.MaxX, Y: pc.Machine.MaxY, Z: pc.Machine.MaxZ},
		Speed:            pc.Machine.Speed,
		ConnectGrace:     pc.Machine.ConnectGrace,
		AckTimeout:       pc.Timeouts.Ack,
		TelemetryTimeout: pc.Timeouts.Telemetry,
		MotionTimeout:    pc.Timeouts.Motion,
		SettleReads:      pc.Machine.SettleReads,
	}
}
