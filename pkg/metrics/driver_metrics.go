// Printer driver metrics
//
// Exposes the driver's link traffic, motion and connection state:
// - commands and acknowledgements
// - position reports and toolhead position
// - protocol errors and timeouts
// - issued and rejected moves
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"

	"github.com/tothambrus11/3d-printer-controller/pkg/printer"
)

// DriverMetrics records printer driver events. It implements
// printer.Observer.
type DriverMetrics struct {
	// Link traffic
	CommandsSent   *Counter
	Acks           *Counter
	AckLatency     *Histogram
	TelemetryReads *Counter
	ProtocolErrors *Counter
	Timeouts       *Counter

	// Motion
	ToolheadPosition *Gauge
	ToolheadTarget   *Gauge
	Settled          *Gauge
	MovesIssued      *Counter
	MovesRejected    *Counter

	// Connection
	ConnectionState *Gauge

	// Process
	HostUptime   *Gauge
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge

	registry  *Registry
	startTime time.Time
}

var _ printer.Observer = (*DriverMetrics)(nil)

// NewDriverMetrics creates and registers the driver metrics
func NewDriverMetrics() *DriverMetrics {
	dm := &DriverMetrics{
		registry:  NewRegistry(),
		startTime: time.Now(),
	}

	dm.CommandsSent = NewCounter("printer_commands_sent_total",
		"Commands written to the firmware, by command word")
	dm.Acks = NewCounter("printer_commands_acknowledged_total",
		"Commands acknowledged with ok")
	dm.AckLatency = NewHistogram("printer_ack_latency_seconds",
		"Time from writing a command to its acknowledgement", DefaultBuckets())
	dm.TelemetryReads = NewCounter("printer_position_reports_total",
		"Position reports parsed")
	dm.ProtocolErrors = NewCounter("printer_protocol_errors_total",
		"Replies that could not be parsed")
	dm.Timeouts = NewCounter("printer_timeouts_total",
		"Waits that ran out of time, by what was awaited")

	dm.ToolheadPosition = NewGauge("printer_toolhead_position_mm",
		"Last reported current position per axis")
	dm.ToolheadTarget = NewGauge("printer_toolhead_target_mm",
		"Last reported target position per axis")
	dm.Settled = NewGauge("printer_toolhead_settled",
		"1 when the last report had current equal to target")
	dm.MovesIssued = NewCounter("printer_moves_total",
		"Moves sent to the firmware, by kind")
	dm.MovesRejected = NewCounter("printer_moves_rejected_total",
		"Moves refused by the bounds check, by axis")

	dm.ConnectionState = NewGauge("printer_connection_state",
		"1 for the current connection state")

	dm.HostUptime = NewGauge("printer_host_uptime_seconds",
		"Seconds since the driver started")
	dm.GoGoroutines = NewGauge("printer_go_goroutines",
		"Number of goroutines")
	dm.GoMemoryHeap = NewGauge("printer_go_memory_heap_bytes",
		"Heap memory in use")

	for _, m := range []Metric{
		dm.CommandsSent, dm.Acks, dm.AckLatency, dm.TelemetryReads,
		dm.ProtocolErrors, dm.Timeouts,
		dm.ToolheadPosition, dm.ToolheadTarget, dm.Settled,
		dm.MovesIssued, dm.MovesRejected,
		dm.ConnectionState,
		dm.HostUptime, dm.GoGoroutines, dm.GoMemoryHeap,
	} {
		dm.registry.MustRegister(m)
	}
	return dm
}

func (dm *DriverMetrics) CommandSent(name string) {
	dm.CommandsSent.Inc(Labels{"command": name})
}

func (dm *DriverMetrics) Acknowledged(latency time.Duration) {
	dm.Acks.Inc(nil)
	dm.AckLatency.ObserveDuration(nil, latency)
}

func (dm *DriverMetrics) TelemetryRead(s printer.PositionSnapshot) {
	dm.TelemetryReads.Inc(nil)
	for _, a := range printer.Axes {
		l := Labels{"axis": string(a)}
		dm.ToolheadPosition.Set(l, s.Current.Get(a))
		dm.ToolheadTarget.Set(l, s.Target.Get(a))
	}
	settled := 0.0
	if s.Settled() {
		settled = 1
	}
	dm.Settled.Set(nil, settled)
}

func (dm *DriverMetrics) ProtocolError() {
	dm.ProtocolErrors.Inc(nil)
}

func (dm *DriverMetrics) Timeout(waitingFor string) {
	dm.Timeouts.Inc(Labels{"waiting_for": waitingFor})
}

func (dm *DriverMetrics) MoveIssued(kind string) {
	dm.MovesIssued.Inc(Labels{"kind": kind})
}

func (dm *DriverMetrics) MoveRejected(axis printer.Axis) {
	dm.MovesRejected.Inc(Labels{"axis": string(axis)})
}

// StateChanged sets the gauge of the new state to 1 and the others to 0.
func (dm *DriverMetrics) StateChanged(state printer.ConnectionState) {
	for _, s := range []printer.ConnectionState{printer.Disconnected, printer.Connecting, printer.Ready} {
		v := 0.0
		if s == state {
			v = 1
		}
		dm.ConnectionState.Set(Labels{"state": s.String()}, v)
	}
}

// CurrentState returns the state whose gauge is set.
func (dm *DriverMetrics) CurrentState() printer.ConnectionState {
	for _, s := range []printer.ConnectionState{printer.Ready, printer.Connecting} {
		if dm.ConnectionState.Get(Labels{"state": s.String()}) == 1 {
			return s
		}
	}
	return printer.Disconnected
}

// UpdateSystemMetrics refreshes the process gauges
func (dm *DriverMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)
	dm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	dm.GoMemoryHeap.Set(nil, float64(m.HeapInuse))
	dm.HostUptime.Set(nil, time.Since(dm.startTime).Seconds())
}

// Uptime returns the time since the metrics were created.
func (dm *DriverMetrics) Uptime() time.Duration {
	return time.Since(dm.startTime)
}

// Gather refreshes the process gauges and renders all metrics
func (dm *DriverMetrics) Gather() string {
	dm.UpdateSystemMetrics()
	return dm.registry.Gather()
}

// Registry returns the underlying registry
func (dm *DriverMetrics) Registry() *Registry {
	return dm.registry
}
