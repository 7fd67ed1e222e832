package serial

import (
	"errors"
	"fmt"
	"io"

	"github.com/tarm/serial"
)

// tarmPort adapts github.com/tarm/serial. With a read timeout set, tarm
// reports an empty read as io.EOF; that is mapped to ErrTimeout so the
// link keeps reading.
type tarmPort struct {
	port *serial.Port
}

func openTarm(cfg Config) (io.ReadWriteCloser, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return &tarmPort{port: p}, nil
}

func (t *tarmPort) Read(b []byte) (int, error) {
	n, err := t.port.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, ErrTimeout
	}
	return n, err
}

func (t *tarmPort) Write(b []byte) (int, error) {
	return t.port.Write(b)
}

func (t *tarmPort) Close() error {
	return t.port.Close()
}
