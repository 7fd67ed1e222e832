// printerctl drives a Marlin-class printer over a serial line. It opens the
// link, initializes the printer and then either runs one command given on
// the command line or starts an interactive shell. Optional servers expose
// a websocket console and Prometheus metrics while it runs.
//
// Usage:
//
//	printerctl [--config printer.cfg] [--device /dev/ttyUSB0] [options] [command args...]
//
// Examples:
//
//	# Interactive shell on the default port
//	printerctl --device /dev/ttyACM0
//
//	# Against cmd/mock-firmware
//	printerctl --backend tcp --device 127.0.0.1:8250
//
//	# One-shot commands
//	printerctl --device /dev/ttyUSB0 home
//	printerctl --device /dev/ttyUSB0 script part.gcode
//
//	# List serial ports
//	printerctl --list-ports
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tothambrus11/3d-printer-controller/pkg/config"
	"github.com/tothambrus11/3d-printer-controller/pkg/console"
	"github.com/tothambrus11/3d-printer-controller/pkg/log"
	"github.com/tothambrus11/3d-printer-controller/pkg/metrics"
	"github.com/tothambrus11/3d-printer-controller/pkg/printer"
	"github.com/tothambrus11/3d-printer-controller/pkg/serial"
)

type mainOptions struct {
	ConfigFile  string
	Device      string
	Backend     string
	Baud        int
	Speed       float64
	SettleReads int
	ConsoleAddr string
	MetricsAddr string
	LogLevel    string
	LogFile     string
	ListPorts   bool
}

func main() {
	var options mainOptions

	flag.StringVarP(&options.ConfigFile, "config", "c", "", "Host configuration file")
	flag.StringVarP(&options.Device, "device", "d", "", "Serial device, or host:port with --backend tcp")
	flag.StringVar(&options.Backend, "backend", "", "Port backend: termios, tarm, bugst or tcp")
	flag.IntVarP(&options.Baud, "baud", "b", 0, "Baud rate")
	flag.Float64Var(&options.Speed, "speed", 0, "Initial feed speed, in mm/second")
	flag.IntVar(&options.SettleReads, "settle-reads", 0, "Settled position reports that end a motion wait")
	flag.StringVar(&options.ConsoleAddr, "console", "", "Websocket console address, e.g. :7125")
	flag.StringVar(&options.MetricsAddr, "metrics", "", "Prometheus metrics address, e.g. :9100")
	flag.StringVar(&options.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	flag.StringVar(&options.LogFile, "logfile", "", "Write logs to a rotating file instead of stderr")
	flag.BoolVar(&options.ListPorts, "list-ports", false, "List serial ports and exit")
	flag.SetInterspersed(false)
	flag.Parse()

	if options.ListPorts {
		if err := listPorts(); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := execute(&options, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func listPorts() error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set on the command line.
func loadConfig(options *mainOptions) (*config.PrinterConfig, error) {
	pc := config.DefaultPrinterConfig()
	if options.ConfigFile != "" {
		var err error
		if pc, err = config.LoadPrinterConfig(options.ConfigFile); err != nil {
			return nil, err
		}
	}

	set := flag.CommandLine.Changed
	if set("device") {
		pc.Serial.Device = options.Device
	}
	if set("backend") {
		pc.Serial.Backend = options.Backend
	}
	if set("baud") {
		pc.Serial.Baud = options.Baud
	}
	if set("speed") {
		pc.Machine.Speed = options.Speed
	}
	if set("settle-reads") {
		pc.Machine.SettleReads = options.SettleReads
	}
	if set("console") {
		pc.Console.Address = options.ConsoleAddr
	}
	if set("metrics") {
		pc.Metrics.Address = options.MetricsAddr
	}
	if set("log-level") {
		pc.Log.Level = options.LogLevel
	}
	if set("logfile") {
		pc.Log.File = options.LogFile
	}
	return pc, nil
}

func setupLogging(lc config.LogConfig) (func(), error) {
	root := log.Root()
	root.SetLevel(log.ParseLevel(lc.Level))
	root.SetFormat(log.ParseFormat(lc.Format))
	log.ConfigureFromEnv(root)

	if lc.File == "" {
		return func() {}, nil
	}
	w, err := log.AttachFile(root, log.RotationConfig{
		Filename:   lc.File,
		MaxSize:    lc.MaxSize,
		MaxBackups: lc.MaxBackups,
		Compress:   true,
	})
	if err != nil {
		return nil, err
	}
	return func() { w.Close() }, nil
}

func execute(options *mainOptions, args []string) error {
	pc, err := loadConfig(options)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(pc.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := log.GetLogger("printerctl")

	// Interrupts are scoped per command by the shell.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	sc := serial.DefaultConfig(pc.Serial.Device)
	sc.Backend = serial.Backend(pc.Serial.Backend)
	sc.BaudRate = pc.Serial.Baud
	if pc.Serial.ReadTimeout > 0 {
		sc.ReadTimeout = pc.Serial.ReadTimeout
	}
	dial := func(ctx context.Context) (printer.Link, error) {
		link, err := serial.Dial(ctx, sc)
		if err != nil {
			return nil, err
		}
		return link, nil
	}

	dm := metrics.NewDriverMetrics()
	p := printer.New(printer.ConfigFrom(pc), dial, printer.WithObserver(dm))
	defer p.Close()

	if pc.Metrics.Address != "" {
		ms := metrics.NewMetricsServerWithConfig(dm, metrics.ServerConfigFrom(pc.Metrics))
		errCh := ms.StartAsync()
		defer shutdown(ms.Shutdown)
		go func() {
			if err := <-errCh; err != nil {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
		logger.WithField("addr", pc.Metrics.Address).Info("metrics server started")
	}

	logger.WithFields(log.Fields{
		"device":  sc.Device,
		"backend": string(sc.Backend),
		"baud":    sc.BaudRate,
	}).Info("connecting")
	initCtx, cancelInit := signal.NotifyContext(ctx, os.Interrupt)
	err = p.Init(initCtx)
	cancelInit()
	if err != nil {
		return fmt.Errorf("initialize printer: %w", err)
	}

	if pc.Console.Address != "" {
		ln, err := net.Listen("tcp", pc.Console.Address)
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}
		cs := console.New(console.Config{Addr: pc.Console.Address, Driver: p})
		go func() {
			if err := cs.Serve(ln); err != nil {
				logger.WithError(err).Error("console stopped")
			}
		}()
		defer cs.Stop()
	}

	sh := &shell{p: p, out: os.Stdout}
	if len(args) > 0 {
		return sh.run(ctx, args[0], args[1:])
	}
	return sh.interactive(ctx)
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.GetLogger("printerctl").WithError(err).Warn("shutdown")
	}
}
