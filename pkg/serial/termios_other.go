//go:build !linux && !darwin

package serial

import (
	"fmt"
	"io"
	"runtime"
)

func openTermios(cfg Config) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("serial: termios backend unavailable on %s, use bugst or tarm", runtime.GOOS)
}
