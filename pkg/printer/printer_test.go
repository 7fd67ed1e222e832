package printer

import (
	"bufio"
	"context"
	stderrors "errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	hosterr "github.com/tothambrus11/3d-printer-controller/pkg/errors"
	"github.com/tothambrus11/3d-printer-controller/pkg/serial"
	"github.com/tothambrus11/3d-printer-controller/pkg/simulator"
)

// harness connects a Printer to simulated firmware and records the sleeps
// requested by motion waits instead of performing them.
type harness struct {
	t   *testing.T
	fw  *simulator.Firmware
	p   *Printer
	obs *recordingObserver

	mu     sync.Mutex
	sleeps []time.Duration
	// m114BeforeSleep[i] is the number of M114s the firmware had seen when
	// sleep i started.
	m114BeforeSleep []int
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AckTimeout = 2 * time.Second
	cfg.TelemetryTimeout = 2 * time.Second
	cfg.MotionTimeout = 5 * time.Second
	return cfg
}

func newHarness(t *testing.T, opts simulator.Options, mutate func(*Config)) *harness {
	t.Helper()
	h := newUninitialized(t, opts, mutate)
	if err := h.p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h.fw.Reset()
	return h
}

func newUninitialized(t *testing.T, opts simulator.Options, mutate func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{t: t, fw: simulator.New(opts), obs: newRecordingObserver()}
	dial := func(ctx context.Context) (Link, error) {
		return simLink(h.fw), nil
	}
	h.p = New(cfg, dial, WithSleep(h.sleep), WithObserver(h.obs))
	t.Cleanup(func() { h.p.Close() })
	return h
}

func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	h.mu.Lock()
	h.sleeps = append(h.sleeps, d)
	h.m114BeforeSleep = append(h.m114BeforeSleep, h.count("M114"))
	h.mu.Unlock()
	return ctx.Err()
}

func (h *harness) count(cmd string) int {
	n := 0
	for _, c := range h.fw.Received() {
		if c == cmd {
			n++
		}
	}
	return n
}

func (h *harness) received() []string {
	return h.fw.Received()
}

func (h *harness) expectReceived(want ...string) {
	h.t.Helper()
	got := h.received()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		h.t.Errorf("firmware received %q, want %q", got, want)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	commands map[string]int
	acks     int
	reads    int
	protocol int
	timeouts []string
	moves    map[string]int
	rejected []Axis
	states   []ConnectionState
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{commands: map[string]int{}, moves: map[string]int{}}
}

func (o *recordingObserver) CommandSent(name string) {
	o.mu.Lock()
	o.commands[name]++
	o.mu.Unlock()
}

func (o *recordingObserver) Acknowledged(time.Duration) {
	o.mu.Lock()
	o.acks++
	o.mu.Unlock()
}

func (o *recordingObserver) TelemetryRead(PositionSnapshot) {
	o.mu.Lock()
	o.reads++
	o.mu.Unlock()
}

func (o *recordingObserver) ProtocolError() {
	o.mu.Lock()
	o.protocol++
	o.mu.Unlock()
}

func (o *recordingObserver) Timeout(what string) {
	o.mu.Lock()
	o.timeouts = append(o.timeouts, what)
	o.mu.Unlock()
}

func (o *recordingObserver) MoveIssued(kind string) {
	o.mu.Lock()
	o.moves[kind]++
	o.mu.Unlock()
}

func (o *recordingObserver) MoveRejected(axis Axis) {
	o.mu.Lock()
	o.rejected = append(o.rejected, axis)
	o.mu.Unlock()
}

func (o *recordingObserver) StateChanged(s ConnectionState) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func simLink(fw *simulator.Firmware) Link {
	return serial.NewLink(simulator.NewPipe(fw))
}

// scriptedLink serves replies computed by reply over an in-memory pipe.
func scriptedLink(reply func(cmd string) []string) (Link, net.Conn) {
	host, device := net.Pipe()
	go func() {
		scanner := bufio.NewScanner(device)
		for scanner.Scan() {
			for _, line := range reply(scanner.Text()) {
				if _, err := device.Write([]byte(line + "\n")); err != nil {
					return
				}
			}
		}
	}()
	return serial.NewLink(host), device
}

func TestInit(t *testing.T) {
	h := newUninitialized(t, simulator.Options{}, nil)
	if h.p.State() != Connecting {
		t.Fatalf("state before Init = %v", h.p.State())
	}
	if err := h.p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	h.expectReceived("G91", "G0 F3600")
	if h.p.State() != Ready {
		t.Errorf("state = %v, want ready", h.p.State())
	}
	if h.p.CoordinateMode() != Relative || !h.fw.Relative() {
		t.Errorf("mode = %v, firmware relative = %v", h.p.CoordinateMode(), h.fw.Relative())
	}
	if h.p.Speed() != 60 {
		t.Errorf("speed = %v", h.p.Speed())
	}
	if h.p.CachedPosition() != (Vector3D{}) {
		t.Errorf("position = %v", h.p.CachedPosition())
	}
	if len(h.p.HomedAxes()) != 0 {
		t.Errorf("homed = %v", h.p.HomedAxes())
	}

	if err := h.p.Init(context.Background()); !hosterr.Is(err, hosterr.ErrNotReady) {
		t.Errorf("second Init: got %v, want NOT_READY", err)
	}
}

func TestInitDialFailure(t *testing.T) {
	p := New(testConfig(), func(context.Context) (Link, error) {
		return nil, stderrors.New("no such device")
	})

	err := p.Init(context.Background())
	if !hosterr.IsTransport(err) {
		t.Fatalf("Init: got %v, want transport error", err)
	}
	if p.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", p.State())
	}
	if err := p.Init(context.Background()); !hosterr.Is(err, hosterr.ErrNotReady) {
		t.Errorf("Init after failure: got %v, want NOT_READY", err)
	}
}

func TestInitConnectGrace(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectGrace = 20 * time.Millisecond
	p := New(cfg, func(ctx context.Context) (Link, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	if err := p.Init(context.Background()); !hosterr.IsTransport(err) {
		t.Fatalf("Init: got %v, want transport error", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Init took %v", elapsed)
	}
}

func TestOperationsBeforeInit(t *testing.T) {
	h := newUninitialized(t, simulator.Options{}, nil)
	ctx := context.Background()

	checks := map[string]error{
		"Go":          h.p.Go(ctx, 1, 0, 0),
		"GoTo":        h.p.GoTo(ctx, Target{X: Coord(1)}),
		"AutoHome":    h.p.AutoHomeXY(ctx),
		"SendCommand": h.p.SendCommand(ctx, "G90"),
		"SetSpeed":    h.p.SetSpeed(ctx, 10),
	}
	for name, err := range checks {
		if !hosterr.Is(err, hosterr.ErrNotReady) {
			t.Errorf("%s: got %v, want NOT_READY", name, err)
		}
	}
	if _, err := h.p.PositionSnapshot(ctx); !hosterr.Is(err, hosterr.ErrNotReady) {
		t.Errorf("PositionSnapshot: got %v", err)
	}
	if _, err := h.p.Subscribe(func(string) {}); !hosterr.Is(err, hosterr.ErrNotReady) {
		t.Errorf("Subscribe: got %v", err)
	}
	if len(h.received()) != 0 {
		t.Errorf("nothing should reach the firmware, got %q", h.received())
	}
}

func TestSetCoordinateModeAlwaysSends(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.p.SetCoordinateMode(ctx, Relative); err != nil {
			t.Fatalf("SetCoordinateMode: %v", err)
		}
	}
	if err := h.p.SetCoordinateMode(ctx, Absolute); err != nil {
		t.Fatalf("SetCoordinateMode: %v", err)
	}
	h.expectReceived("G91", "G91", "G90")
	if h.p.CoordinateMode() != Absolute {
		t.Errorf("mode = %v", h.p.CoordinateMode())
	}

	for _, bad := range []CoordinateMode{ModeUnknown, CoordinateMode(7)} {
		if err := h.p.SetCoordinateMode(ctx, bad); !hosterr.Is(err, hosterr.ErrInvalidArgument) {
			t.Errorf("mode %d: got %v, want INVALID_ARGUMENT", bad, err)
		}
	}
	if len(h.received()) != 3 {
		t.Errorf("invalid modes must not be sent: %q", h.received())
	}
	if h.p.CoordinateMode() != Absolute {
		t.Errorf("invalid mode changed state to %v", h.p.CoordinateMode())
	}
}

func TestSetCoordinateModeRecordsModeBeforeAck(t *testing.T) {
	h := newHarness(t, simulator.Options{
		Mute: func(cmd string) bool { return cmd == "G90" },
	}, func(c *Config) {
		c.AckTimeout = 50 * time.Millisecond
	})

	err := h.p.SetCoordinateMode(context.Background(), Absolute)
	if !hosterr.IsTimeout(err) {
		t.Fatalf("got %v, want timeout", err)
	}
	if h.p.CoordinateMode() != Absolute {
		t.Errorf("mode = %v, want the requested mode kept after a lost ack", h.p.CoordinateMode())
	}
}

func TestSetSpeed(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)
	ctx := context.Background()

	if err := h.p.SetSpeed(ctx, 2.5); err != nil {
		t.Fatalf("SetSpeed: %v", err)
	}
	h.expectReceived("G0 F150")
	if h.p.Speed() != 2.5 || h.fw.FeedRate() != 150 {
		t.Errorf("speed = %v, firmware feed = %v", h.p.Speed(), h.fw.FeedRate())
	}

	for _, bad := range []float64{0, -10} {
		if err := h.p.SetSpeed(ctx, bad); !hosterr.Is(err, hosterr.ErrInvalidArgument) {
			t.Errorf("SetSpeed(%v): got %v", bad, err)
		}
	}
	if h.p.Speed() != 2.5 {
		t.Errorf("rejected speed was stored: %v", h.p.Speed())
	}
}

func TestAutoHome(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)
	ctx := context.Background()

	if err := h.p.AutoHomeXY(ctx); err != nil {
		t.Fatalf("AutoHomeXY: %v", err)
	}
	if err := h.p.AutoHome(ctx, AxisZ); err != nil {
		t.Fatalf("AutoHome: %v", err)
	}
	h.expectReceived("G28 X Y", "G28 Z")
	if got := h.p.HomedAxes(); len(got) != 3 {
		t.Errorf("homed = %v", got)
	}
	if !h.fw.Homed("X") || !h.fw.Homed("Z") {
		t.Error("firmware did not home")
	}

	if err := h.p.AutoHome(ctx); !hosterr.Is(err, hosterr.ErrInvalidArgument) {
		t.Errorf("no axes: got %v", err)
	}
	if err := h.p.AutoHome(ctx, Axis("E")); !hosterr.Is(err, hosterr.ErrInvalidArgument) {
		t.Errorf("bad axis: got %v", err)
	}
}

func TestAutoHomeMarksAxesBeforeAck(t *testing.T) {
	h := newHarness(t, simulator.Options{
		Mute: func(cmd string) bool { return strings.HasPrefix(cmd, "G28") },
	}, func(c *Config) { c.AckTimeout = 50 * time.Millisecond })

	err := h.p.AutoHomeXY(context.Background())
	if !hosterr.IsTimeout(err) {
		t.Fatalf("AutoHomeXY: got %v, want timeout", err)
	}
	if got := h.p.HomedAxes(); len(got) != 2 || got[0] != AxisX || got[1] != AxisY {
		t.Errorf("homed = %v, want [X Y]", got)
	}
	if len(h.obs.timeouts) != 1 {
		t.Errorf("observer timeouts = %v", h.obs.timeouts)
	}
}

func TestSendCommandNoAck(t *testing.T) {
	h := newHarness(t, simulator.Options{
		Mute: func(cmd string) bool { return cmd == "M84" },
	}, nil)

	if err := h.p.SendCommand(context.Background(), "M84", NoAck()); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(h.received()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.expectReceived("M84")
}

func TestSendCommandHonoursContext(t *testing.T) {
	h := newHarness(t, simulator.Options{
		Mute: func(cmd string) bool { return cmd == "M400" },
	}, func(c *Config) { c.AckTimeout = 0 })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := h.p.SendCommand(ctx, "M400"); !stderrors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	// The exchange lock was released.
	if err := h.p.SendCommand(context.Background(), "G90"); err != nil {
		t.Fatalf("SendCommand after cancel: %v", err)
	}
}

func TestSendGCode(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)
	ctx := context.Background()

	if err := h.p.SendGCode(ctx, nil); !hosterr.Is(err, hosterr.ErrInvalidArgument) {
		t.Errorf("empty: got %v", err)
	}

	if err := h.p.SendGCode(ctx, []string{"G90", "G0 X1 Y2 Z0"}, NoAck()); err != nil {
		t.Fatalf("SendGCode: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(h.received()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.expectReceived("G90", "G0 X1 Y2 Z0")
}

func TestConcurrentCommandsKeepTheirAcks(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := "G90"
			if i%2 == 0 {
				cmd = "G91"
			}
			errs <- h.p.SendCommand(ctx, cmd)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("SendCommand: %v", err)
		}
	}
	if len(h.received()) != 20 {
		t.Errorf("received %d commands", len(h.received()))
	}
	if h.obs.acks < 20 {
		t.Errorf("acks = %d", h.obs.acks)
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)

	lines := make(chan string, 4)
	sub, err := h.p.Subscribe(func(line string) { lines <- line })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := h.p.SendCommand(context.Background(), "G90"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	select {
	case line := <-lines:
		if line != "ok" {
			t.Errorf("got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber saw nothing")
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)

	if err := h.p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.p.State() != Disconnected {
		t.Errorf("state = %v", h.p.State())
	}
	if err := h.p.Go(context.Background(), 1, 0, 0); !hosterr.Is(err, hosterr.ErrNotReady) {
		t.Errorf("Go after Close: got %v", err)
	}
}

func TestFirmwareHangup(t *testing.T) {
	var device net.Conn
	p := New(testConfig(), func(context.Context) (Link, error) {
		link, dev := scriptedLink(func(string) []string { return []string{"ok"} })
		device = dev
		return link, nil
	})
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	device.Close()
	deadline := time.Now().Add(time.Second)
	for p.State() != Disconnected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.State() != Disconnected {
		t.Fatalf("state = %v after hangup", p.State())
	}
}

func TestPendingAckFailsOnHangup(t *testing.T) {
	var device net.Conn
	p := New(testConfig(), func(context.Context) (Link, error) {
		link, dev := scriptedLink(func(cmd string) []string {
			if cmd == "M400" {
				return nil
			}
			return []string{"ok"}
		})
		device = dev
		return link, nil
	})
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		device.Close()
	}()
	if err := p.SendCommand(context.Background(), "M400"); !hosterr.IsTransport(err) {
		t.Errorf("got %v, want transport error", err)
	}
}

func TestObserverStates(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)
	h.p.Close()

	h.obs.mu.Lock()
	defer h.obs.mu.Unlock()
	want := []ConnectionState{Connecting, Ready, Disconnected}
	if len(h.obs.states) != len(want) {
		t.Fatalf("states = %v, want %v", h.obs.states, want)
	}
	for i := range want {
		if h.obs.states[i] != want[i] {
			t.Errorf("states = %v, want %v", h.obs.states, want)
		}
	}
	if h.obs.commands["G91"] != 1 || h.obs.commands["G0"] != 1 {
		t.Errorf("commands = %v", h.obs.commands)
	}
}

func TestEmergencyStop(t *testing.T) {
	h := newHarness(t, simulator.Options{}, nil)

	if err := h.p.EmergencyStop(); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if h.p.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", h.p.State())
	}
	deadline := time.Now().Add(time.Second)
	for !h.fw.Halted() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !h.fw.Halted() {
		t.Error("firmware did not halt")
	}
	h.expectReceived("M112")
	if err := h.p.EmergencyStop(); !hosterr.Is(err, hosterr.ErrNotReady) {
		t.Errorf("second EmergencyStop: got %v, want not ready", err)
	}
}
