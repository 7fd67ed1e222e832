package simulator

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// NewPipe starts fw on one end of an in-memory connection and returns the
// other end for the host. Closing the host end stops the firmware.
func NewPipe(fw *Firmware) io.ReadWriteCloser {
	host, device := net.Pipe()
	go func() {
		defer device.Close()
		fw.Serve(device)
	}()
	return host
}

// Server serves one Firmware per accepted connection.
type Server struct {
	// NewFirmware builds the firmware for a new connection.
	NewFirmware func() *Firmware

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Serve accepts connections on ln until ctx is done or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()

			fw := s.NewFirmware()
			fw.log.WithField("remote", conn.RemoteAddr().String()).Info("client connected")
			if err := fw.Serve(conn); err != nil {
				fw.log.WithError(err).Warn("client disconnected")
				return
			}
			fw.log.Info("client disconnected")
		}()
	}
}
