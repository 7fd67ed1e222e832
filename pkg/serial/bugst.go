package serial

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

func openBugst(cfg Config) (io.ReadWriteCloser, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	// go.bug.st reports a read timeout as (0, nil), which the link retries.
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: reset input buffer: %w", err)
	}
	return port, nil
}
