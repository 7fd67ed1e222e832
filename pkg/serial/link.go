package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tothambrus11/3d-printer-controller/pkg/bus"
	"github.com/tothambrus11/3d-printer-controller/pkg/log"
)

const maxLineLength = 64 * 1024

// Link frames a firmware byte stream into lines and publishes them on a
// bus. One goroutine reads; writers are serialized.
type Link struct {
	rwc io.ReadWriteCloser
	bus *bus.Bus
	log *log.Logger

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewLink starts reading from rwc. The link owns rwc from now on.
func NewLink(rwc io.ReadWriteCloser) *Link {
	l := &Link{
		rwc:  rwc,
		bus:  bus.New(),
		log:  log.GetLogger("serial"),
		done: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// Dial opens the configured port and wraps it in a Link.
func Dial(ctx context.Context, cfg Config) (*Link, error) {
	rwc, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.GetLogger("serial").WithFields(log.Fields{
		"device":  cfg.Device,
		"backend": string(cfg.Backend),
		"baud":    cfg.BaudRate,
	}).Info("port opened")
	return NewLink(rwc), nil
}

// Bus returns the bus carrying every line received from the firmware.
func (l *Link) Bus() *bus.Bus {
	return l.bus
}

// Done is closed when the read side ends.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns why the read side ended; nil for a clean EOF or Close.
func (l *Link) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// WriteLine sends text followed by a newline in a single write.
func (l *Link) WriteLine(text string) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	buf := []byte(text + "\n")
	for len(buf) > 0 {
		n, err := l.rwc.Write(buf)
		if err != nil {
			return fmt.Errorf("serial: write %q: %w", text, err)
		}
		buf = buf[n:]
	}
	if l.log.Enabled(log.DEBUG) {
		l.log.WithField("line", text).Debug("sent")
	}
	return nil
}

// Close closes the port. The read loop then closes the bus, which fails
// any waits still pending on it.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.rwc.Close()
	})
	<-l.done
	return err
}

func (l *Link) readLoop() {
	defer close(l.done)
	defer l.bus.Close()

	scanner := bufio.NewScanner(retryReader{l.rwc})
	scanner.Buffer(make([]byte, 4096), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if l.log.Enabled(log.DEBUG) {
			l.log.WithField("line", line).Debug("received")
		}
		l.bus.Publish(line)
	}

	err := scanner.Err()
	if errors.Is(err, ErrClosed) || errors.Is(err, io.ErrClosedPipe) || isClosedConn(err) {
		err = nil
	}
	if err != nil {
		l.log.WithError(err).Warn("link read failed")
	} else {
		l.log.Info("link closed")
	}
	l.errMu.Lock()
	l.err = err
	l.errMu.Unlock()

	l.closeOnce.Do(func() { l.rwc.Close() })
}

func isClosedConn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed")
}

// retryReader hides read timeouts and empty reads from the scanner, which
// would otherwise give up after a few of them.
type retryReader struct {
	r io.Reader
}

func (rr retryReader) Read(p []byte) (int, error) {
	for {
		n, err := rr.r.Read(p)
		if n > 0 {
			if errors.Is(err, ErrTimeout) {
				err = nil
			}
			return n, err
		}
		if err == nil || errors.Is(err, ErrTimeout) {
			continue
		}
		return 0, err
	}
}
