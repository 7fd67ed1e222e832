package serial

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/tothambrus11/3d-printer-controller/pkg/bus"
)

func TestLinkPublishesLines(t *testing.T) {
	host, fw := net.Pipe()
	link := NewLink(host)
	defer link.Close()

	lines := make(chan string, 8)
	link.Bus().Subscribe(func(line string) { lines <- line })

	go func() {
		fw.Write([]byte("start\r\nX:1.00 Y:2.00 Z:3.00\nok\n"))
	}()

	for _, want := range []string{"start", "X:1.00 Y:2.00 Z:3.00", "ok"} {
		select {
		case got := <-lines:
			if got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	fw.Close()
}

func TestLinkWriteLine(t *testing.T) {
	host, fw := net.Pipe()
	link := NewLink(host)
	defer link.Close()

	got := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(fw).ReadString('\n')
		got <- line
	}()

	if err := link.WriteLine("G0 X10 Y0 Z0"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	select {
	case line := <-got:
		if line != "G0 X10 Y0 Z0\n" {
			t.Errorf("wire = %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("firmware side never read the line")
	}
	fw.Close()
}

func TestLinkEOFClosesBus(t *testing.T) {
	host, fw := net.Pipe()
	link := NewLink(host)

	p := link.Bus().Expect(bus.Equals("ok"))
	fw.Close()

	select {
	case <-link.Done():
	case <-time.After(time.Second):
		t.Fatal("link did not notice EOF")
	}
	if err := link.Err(); err != nil {
		t.Errorf("clean EOF should leave no error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("pending wait after EOF: got %v, want ErrClosed", err)
	}
	if err := link.WriteLine("M114"); !errors.Is(err, ErrClosed) {
		t.Errorf("write after EOF: got %v, want ErrClosed", err)
	}
	link.Close()
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	host, fw := net.Pipe()
	defer fw.Close()
	link := NewLink(host)

	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if link.Bus().Len() != 0 {
		t.Error("closed bus should have no subscribers")
	}
}

type scriptedReader struct {
	steps []func(p []byte) (int, error)
}

func (s *scriptedReader) Read(p []byte) (int, error) {
	if len(s.steps) == 0 {
		return 0, io.EOF
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step(p)
}

func TestRetryReaderSkipsTimeouts(t *testing.T) {
	r := &scriptedReader{steps: []func([]byte) (int, error){
		func([]byte) (int, error) { return 0, ErrTimeout },
		func([]byte) (int, error) { return 0, nil },
		func(p []byte) (int, error) { return copy(p, "ok\n"), nil },
	}}

	scanner := bufio.NewScanner(retryReader{r})
	if !scanner.Scan() || scanner.Text() != "ok" {
		t.Fatalf("got %q, %v", scanner.Text(), scanner.Err())
	}
	if scanner.Scan() {
		t.Fatal("expected end of input")
	}
	if scanner.Err() != nil {
		t.Errorf("EOF should not surface as an error: %v", scanner.Err())
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Error("empty device should fail")
	}
	if _, err := Open(context.Background(), Config{Device: "x", Backend: "carrier-pigeon"}); err == nil {
		t.Error("unknown backend should fail")
	}
}

// stubPort is a port that only records Close.
type stubPort struct {
	io.ReadWriter
	closed chan struct{}
}

func (p *stubPort) Close() error {
	close(p.closed)
	return nil
}

func TestOpenBoundedByContext(t *testing.T) {
	port := &stubPort{closed: make(chan struct{})}
	release := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := openBounded(ctx, func() (io.ReadWriteCloser, error) {
		<-release
		return port, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("open returned after %v", elapsed)
	}

	close(release)
	select {
	case <-port.closed:
	case <-time.After(time.Second):
		t.Fatal("port opened after the deadline was not closed")
	}
}

func TestOpenBoundedPassesResult(t *testing.T) {
	want := errors.New("no such device")
	if _, err := openBounded(context.Background(), func() (io.ReadWriteCloser, error) {
		return nil, want
	}); !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}

	port := &stubPort{closed: make(chan struct{})}
	rwc, err := openBounded(context.Background(), func() (io.ReadWriteCloser, error) {
		return port, nil
	})
	if err != nil || rwc != io.ReadWriteCloser(port) {
		t.Errorf("got %v, %v", rwc, err)
	}
}

func TestOpenTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("ok\n"))
		conn.Close()
	}()

	link, err := Dial(context.Background(), Config{Device: ln.Addr().String(), Backend: BackendTCP})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer link.Close()

	select {
	case <-link.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("link did not close after peer hung up")
	}
}

func TestPortInfoString(t *testing.T) {
	p := PortInfo{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523", Product: "USB Serial"}
	if got := p.String(); got != "/dev/ttyUSB0 [1a86:7523] USB Serial" {
		t.Errorf("String() = %q", got)
	}
	if got := (PortInfo{Name: "/dev/ttyS0"}).String(); got != "/dev/ttyS0" {
		t.Errorf("String() = %q", got)
	}
}
