// mock-firmware serves a simulated Marlin-class printer over TCP for
// testing printerctl without hardware. Each connection gets its own
// firmware state.
//
// Usage:
//
//	mock-firmware [--listen 127.0.0.1:8250] [--settle-polls 3] [--trace]
//
// Then connect with:
//
//	printerctl --backend tcp --device 127.0.0.1:8250
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/tothambrus11/3d-printer-controller/pkg/log"
	"github.com/tothambrus11/3d-printer-controller/pkg/simulator"
)

type mainOptions struct {
	Listen      string
	SettlePolls int
	Banner      bool
	Trace       bool
}

func main() {
	var options mainOptions

	flag.StringVarP(&options.Listen, "listen", "l", "127.0.0.1:8250", "TCP address to listen on")
	flag.IntVar(&options.SettlePolls, "settle-polls", 2, "Position reports before a move completes")
	flag.BoolVar(&options.Banner, "banner", true, "Print a start banner on connect")
	flag.BoolVar(&options.Trace, "trace", false, "Log every line received and sent")
	flag.Parse()

	if err := execute(&options); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func execute(options *mainOptions) error {
	logger := log.GetLogger("mock-firmware")
	log.ConfigureFromEnv(log.Root())
	if options.Trace {
		log.Root().SetLevel(log.DEBUG)
	}

	ln, err := net.Listen("tcp", options.Listen)
	if err != nil {
		return err
	}

	var banner []string
	if options.Banner {
		banner = []string{"start", "echo:Marlin mock-firmware", "echo:SD card ok"}
	}
	srv := &simulator.Server{
		NewFirmware: func() *simulator.Firmware {
			return simulator.New(simulator.Options{
				SettlePolls: options.SettlePolls,
				Banner:      banner,
			})
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(log.Fields{
		"addr":         ln.Addr().String(),
		"settle_polls": options.SettlePolls,
	}).Info("mock firmware listening")
	if err := srv.Serve(ctx, ln); err != nil {
		return err
	}
	logger.Info("mock firmware stopped")
	return nil
}
