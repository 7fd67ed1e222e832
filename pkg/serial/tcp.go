package serial

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// openTCP dials a raw TCP byte stream (ser2net, ESP3D bridges, the
// firmware simulator). The dial is bounded by ctx.
func openTCP(ctx context.Context, cfg Config) (io.ReadWriteCloser, error) {
	d := net.Dialer{KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("serial: connect to %s: %w", cfg.Device, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return conn, nil
}
