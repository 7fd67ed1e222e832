package config

import (
	"time"
)

// Serial backends understood by pkg/serial.
var SerialBackends = []string{"termios", "tarm", "bugst", "tcp"}

// SerialConfig is the [serial] section.
type SerialConfig struct {
	Device      string
	Backend     string
	Baud        int
	ReadTimeout time.Duration
}

// MachineConfig is the [printer] section: the build envelope and the
// initial feed speed.
type MachineConfig struct {
	MaxX, MaxY, MaxZ float64
	Speed            float64 // mm/s
	ConnectGrace     time.Duration

	// SettleReads is the number of consecutive settled M114 reports that
	// end a motion wait.
	SettleReads int
}

// TimeoutConfig is the [timeouts] section. Zero means unbounded.
type TimeoutConfig struct {
	Ack       time.Duration
	Telemetry time.Duration
	Motion    time.Duration
}

// ConsoleConfig is the [console] section. An empty address disables the
// websocket console.
type ConsoleConfig struct {
	Address string
}

// MetricsConfig is the [metrics] section.
type MetricsConfig struct {
	Address  string
	Username string
	Password string
}

// LogConfig is the [log] section.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int // MB
	MaxBackups int
}

// PrinterConfig is the typed view of a host configuration file.
type PrinterConfig struct {
	Serial   SerialConfig
	Machine  MachineConfig
	Timeouts TimeoutConfig
	Console  ConsoleConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// DefaultPrinterConfig returns the settings used when a file omits them.
func DefaultPrinterConfig() *PrinterConfig {
	return &PrinterConfig{
		Serial: SerialConfig{
			Device:  "/dev/ttyUSB0",
			Backend: "termios",
			Baud:    115200,
		},
		Machine: MachineConfig{
			MaxX:         200,
			MaxY:         200,
			MaxZ:         200,
			Speed:        60,
			ConnectGrace: time.Second,
			SettleReads:  1,
		},
		Timeouts: TimeoutConfig{
			Ack:       2 * time.Minute,
			Telemetry: 10 * time.Second,
			Motion:    10 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 5,
		},
	}
}

// LoadPrinterConfig reads and validates a host configuration file.
func LoadPrinterConfig(path string) (*PrinterConfig, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return ParsePrinterConfig(c)
}

// ParsePrinterConfig converts a parsed file into a PrinterConfig, filling
// unset options from DefaultPrinterConfig.
func ParsePrinterConfig(c *Config) (*PrinterConfig, error) {
	pc := DefaultPrinterConfig()
	var err error

	serial := c.Section("serial")
	if pc.Serial.Device, err = serial.Get("device", pc.Serial.Device); err != nil {
		return nil, err
	}
	if pc.Serial.Backend, err = serial.GetChoice("backend", SerialBackends, pc.Serial.Backend); err != nil {
		return nil, err
	}
	if pc.Serial.Baud, err = serial.GetInt("baud", pc.Serial.Baud); err != nil {
		return nil, err
	}
	if pc.Serial.Baud <= 0 {
		return nil, outOfRange("serial", "baud", float64(pc.Serial.Baud), "must be above 0")
	}
	if pc.Serial.ReadTimeout, err = serial.GetDuration("read_timeout", pc.Serial.ReadTimeout); err != nil {
		return nil, err
	}

	machine := c.Section("printer")
	positive := FloatBounds{Above: Float(0)}
	if pc.Machine.MaxX, err = machine.GetFloatWithBounds("max_x", positive, pc.Machine.MaxX); err != nil {
		return nil, err
	}
	if pc.Machine.MaxY, err = machine.GetFloatWithBounds("max_y", positive, pc.Machine.MaxY); err != nil {
		return nil, err
	}
	if pc.Machine.MaxZ, err = machine.GetFloatWithBounds("max_z", positive, pc.Machine.MaxZ); err != nil {
		return nil, err
	}
	if pc.Machine.Speed, err = machine.GetFloatWithBounds("speed", positive, pc.Machine.Speed); err != nil {
		return nil, err
	}
	if pc.Machine.ConnectGrace, err = machine.GetDuration("connect_grace", pc.Machine.ConnectGrace); err != nil {
		return nil, err
	}
	if pc.Machine.SettleReads, err = machine.GetInt("settle_reads", pc.Machine.SettleReads); err != nil {
		return nil, err
	}
	if pc.Machine.SettleReads < 1 {
		return nil, outOfRange("printer", "settle_reads", float64(pc.Machine.SettleReads), "must be at least 1")
	}

	timeouts := c.Section("timeouts")
	if pc.Timeouts.Ack, err = timeouts.GetDuration("ack", pc.Timeouts.Ack); err != nil {
		return nil, err
	}
	if pc.Timeouts.Telemetry, err = timeouts.GetDuration("telemetry", pc.Timeouts.Telemetry); err != nil {
		return nil, err
	}
	if pc.Timeouts.Motion, err = timeouts.GetDuration("motion", pc.Timeouts.Motion); err != nil {
		return nil, err
	}

	if pc.Console.Address, err = c.Section("console").Get("address", ""); err != nil {
		return nil, err
	}

	metrics := c.Section("metrics")
	if pc.Metrics.Address, err = metrics.Get("address", ""); err != nil {
		return nil, err
	}
	if pc.Metrics.Username, err = metrics.Get("username", ""); err != nil {
		return nil, err
	}
	if pc.Metrics.Password, err = metrics.Get("password", ""); err != nil {
		return nil, err
	}

	logs := c.Section("log")
	if pc.Log.Level, err = logs.GetChoice("level", []string{"debug", "info", "warn", "error"}, pc.Log.Level); err != nil {
		return nil, err
	}
	if pc.Log.Format, err = logs.GetChoice("format", []string{"text", "json"}, pc.Log.Format); err != nil {
		return nil, err
	}
	if pc.Log.File, err = logs.Get("file", ""); err != nil {
		return nil, err
	}
	if pc.Log.MaxSize, err = logs.GetInt("max_size", pc.Log.MaxSize); err != nil {
		return nil, err
	}
	if pc.Log.MaxBackups, err = logs.GetInt("max_backups", pc.Log.MaxBackups); err != nil {
		return nil, err
	}

	if err := c.CheckUnused("serial", "printer", "timeouts", "console", "metrics", "log"); err != nil {
		return nil, err
	}
	return pc, nil
}
