package printer

import "time"

// Observer receives driver events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	CommandSent(name string)
	Acknowledged(latency time.Duration)
	TelemetryRead(s PositionSnapshot)
	ProtocolError()
	Timeout(waitingFor string)
	MoveIssued(kind string)
	MoveRejected(axis Axis)
	StateChanged(state ConnectionState)
}

type nopObserver struct{}

func (nopObserver) CommandSent(string) {}
func (nopObserver) Acknowledged(time.Duration) {}
func (nopObserver) TelemetryRead(PositionSnapshot) {}
func (nopObserver) ProtocolError() {}
func (nopObserver) Timeout(string) {}
func (nopObserver) MoveIssued(string) {}
func (nopObserver) MoveRejected(Axis) {}
func (nopObserver) StateChanged(ConnectionState) {}
