package engine

import (
	"context"
	"time"

	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// Runner drives Engine.Tick at a fixed cadence and forwards the results.
type Runner struct {
	engine    *Engine
	clock     timeutil.Clock
	interval  time.Duration
	sink      AlertSink
	observers []func(TickResult)
}

// NewRunner creates a Runner. Alerts go to every sink in order.
func NewRunner(e *Engine, clock timeutil.Clock, interval time.Duration, sinks ...AlertSink) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Runner{engine: e, clock: clock, interval: interval, sink: MultiSink(sinks)}
}

// Observe registers fn to receive every tick result, alerts included. It must
// be called before Run.
func (r *Runner) Observe(fn func(TickResult)) {
	r.observers = append(r.observers, fn)
}

// Run ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	monitoring.Logf("engine: ticking every %s", r.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			res := r.engine.Tick(now.UnixMilli())
			for _, a := range res.Alerts {
				r.sink.Emit(a)
			}
			for _, fn := range r.observers {
				fn(res)
			}
		}
	}
}

// TelemetryPublisher transmits our telemetry to peers.
type TelemetryPublisher interface {
	Publish(ctx context.Context, t vehicle.Telemetry) error
}

// RunTelemetry publishes the engine's telemetry every interval until ctx is
// cancelled. Nothing is sent before the first fix. Publish errors are logged
// and the loop carries on.
func RunTelemetry(ctx context.Context, e *Engine, clock timeutil.Clock, interval time.Duration, pub TelemetryPublisher) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			t, ok := e.Telemetry()
			if !ok {
				continue
			}
			if err := pub.Publish(ctx, t); err != nil && ctx.Err() == nil {
				monitoring.Logf("engine: telemetry publish failed: %v", err)
			}
		}
	}
}

// PeerSource fetches one batch of peer telemetry.
type PeerSource interface {
	Receive(ctx context.Context) ([]byte, error)
}

// RunPeerPoll polls src every interval and feeds the engine. A failed poll is
// handed to IngestPeerPollError.
func RunPeerPoll(ctx context.Context, e *Engine, clock timeutil.Clock, interval time.Duration, src PeerSource) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			payload, err := src.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.IngestPeerPollError(err)
				continue
			}
			_ = e.IngestPeerPayload(payload) // rejections are logged by the engine
		}
	}
}
