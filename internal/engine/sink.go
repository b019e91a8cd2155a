package engine

import (
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// AlertSink renders or plays an alert. Implementations must not block the
// caller for long; the runner calls Emit from its tick loop.
type AlertSink interface {
	Emit(vehicle.Alert)
}

// SinkFunc adapts a function to AlertSink.
type SinkFunc func(vehicle.Alert)

// Emit calls f(a).
func (f SinkFunc) Emit(a vehicle.Alert) { f(a) }

// MultiSink fans an alert out to every sink in order.
type MultiSink []AlertSink

// Emit forwards a to each sink.
func (m MultiSink) Emit(a vehicle.Alert) {
	for _, s := range m {
		s.Emit(a)
	}
}

// LogSink writes alerts through the monitoring logger.
type LogSink struct{}

// Emit logs a.
func (LogSink) Emit(a vehicle.Alert) {
	if a.SubjectID != "" {
		monitoring.Logf("alert %s [%s]: %s", a.Class, a.SubjectID, a.Message)
		return
	}
	monitoring.Logf("alert %s: %s", a.Class, a.Message)
}
