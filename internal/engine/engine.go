// Package engine is the single entry point of the proximity pipeline. It
// serialises self fixes, peer reports and ticks behind one mutex and wires
// the self-state tracker, peer registry and hazard detector together.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/roadsense/internal/config"
	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/hazard"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/peers"
	"github.com/banshee-data/roadsense/internal/selfstate"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// maxTickGapMs bounds the interval handed to the registry after a stall so
// the heading slew and speed bound do not jump.
const maxTickGapMs = 1000

// Config holds everything the engine needs.
type Config struct {
	VehicleID    string
	VehicleType  vehicle.VehicleType
	Tracker      selfstate.Config
	Peers        peers.Config
	Hazard       hazard.Config
	TickInterval time.Duration
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig, id string, vt vehicle.VehicleType) Config {
	return Config{
		VehicleID:    id,
		VehicleType:  vt,
		Tracker:      selfstate.ConfigFromTuning(cfg),
		Peers:        peers.ConfigFromTuning(cfg),
		Hazard:       hazard.ConfigFromTuning(cfg),
		TickInterval: cfg.GetTickInterval(),
	}
}

// TickResult is the output of one tick.
type TickResult struct {
	NowMs       int64                 `json:"now_ms"`
	Self        *vehicle.SelfState    `json:"self,omitempty"`
	ActivePeers []vehicle.PeerVehicle `json:"active_peers"`
	Alerts      []vehicle.Alert       `json:"alerts,omitempty"`
}

// Stats counts what the engine accepted and dropped.
type Stats struct {
	FixesAccepted   int64 `json:"fixes_accepted"`
	FixesRejected   int64 `json:"fixes_rejected"`
	ReportsAccepted int64 `json:"reports_accepted"`
	ReportsRejected int64 `json:"reports_rejected"`
	EmptyPolls      int64 `json:"empty_polls"`
	Ticks           int64 `json:"ticks"`
	Alerts          int64 `json:"alerts"`
}

// pollLogInterval spaces out repeated peer poll failure lines.
const pollLogInterval = 30 * time.Second

// Engine is safe for concurrent use; every entry point takes the same lock
// and none of them block.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	clock timeutil.Clock

	tracker  *selfstate.Tracker
	registry *peers.Registry
	detector *hazard.Detector

	pollLog *monitoring.Throttle

	lastTickMs int64
	ticked     bool
	last       TickResult
	stats      Stats
}

// New creates an Engine. A nil clock means the real clock; it timestamps
// peer reports on arrival.
func New(cfg Config, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		cfg:      cfg,
		clock:    clock,
		tracker:  selfstate.NewTracker(cfg.Tracker),
		registry: peers.NewRegistry(cfg.Peers),
		detector: hazard.NewDetector(cfg.Hazard),
		pollLog:  monitoring.NewThrottle(pollLogInterval, clock.Now),
	}
}

// IngestSelfFix feeds one of our own position fixes. Invalid and stale fixes
// are logged, counted and dropped; the previous state is kept.
func (e *Engine) IngestSelfFix(fix vehicle.PositionFix) (vehicle.SelfState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.tracker.Ingest(fix)
	if err != nil {
		e.stats.FixesRejected++
		monitoring.Logf("engine: dropping fix: %v", err)
		return vehicle.SelfState{}, err
	}
	e.stats.FixesAccepted++
	return s, nil
}

// IngestPeerReport validates and stores a single decoded peer message.
func (e *Engine) IngestPeerReport(raw map[string]any) error {
	rep, err := vehicle.ParsePeerReport(raw)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.stats.ReportsRejected++
		monitoring.Logf("engine: dropping peer report: %v", err)
		return err
	}
	if rep.ID == e.cfg.VehicleID {
		return nil // our own echo from the relay
	}
	e.registry.Ingest(rep, e.nowMs())
	e.stats.ReportsAccepted++
	return nil
}

// IngestPeerPayload decodes one transport payload (a single object or an
// array). Valid entries are stored; an empty payload applies the registry's
// empty-report policy. The returned error joins every rejected entry.
func (e *Engine) IngestPeerPayload(payload []byte) error {
	res := vehicle.ParsePeerPayload(payload)

	e.mu.Lock()
	defer e.mu.Unlock()

	reports := res.Reports[:0:0]
	for _, r := range res.Reports {
		if r.ID != e.cfg.VehicleID {
			reports = append(reports, r)
		}
	}
	if res.Empty {
		e.stats.EmptyPolls++
	}
	e.registry.IngestBatch(reports, res.Empty, e.nowMs())
	e.stats.ReportsAccepted += int64(len(reports))
	e.stats.ReportsRejected += int64(len(res.Rejected))

	if len(res.Rejected) == 0 {
		return nil
	}
	err := fmt.Errorf("%d peer report(s) rejected: %w", len(res.Rejected), errors.Join(res.Rejected...))
	monitoring.Logf("engine: %v", err)
	return err
}

// IngestPeerPollError records a failed transport poll. It is treated like an
// empty payload so the configured policy decides whether peers survive it.
func (e *Engine) IngestPeerPollError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pollLog.Logf("engine: peer poll failed: %v", err)
	e.stats.EmptyPolls++
	e.registry.IngestBatch(nil, true, e.nowMs())
}

// Tick advances peer extrapolation to nowMs and runs hazard detection.
func (e *Engine) Tick(nowMs int64) TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	interval := e.cfg.TickInterval.Milliseconds()
	if e.ticked {
		interval = min(max(nowMs-e.lastTickMs, 0), maxTickGapMs)
	}
	e.lastTickMs, e.ticked = nowMs, true

	res := TickResult{NowMs: nowMs, ActivePeers: e.registry.Tick(nowMs, interval)}

	in := hazard.Input{Peers: res.ActivePeers, NowMs: nowMs}
	if s, ok := e.tracker.Current(); ok {
		res.Self = &s
		in.Self = &s
	}
	if p, ok := e.tracker.Previous(); ok {
		in.Previous = &p
	}
	res.Alerts = e.detector.Evaluate(in, e.registry)

	e.stats.Ticks++
	e.stats.Alerts += int64(len(res.Alerts))
	e.last = res
	return res
}

// Telemetry returns the outbound message for our current state. It reports
// false until the first fix is accepted.
func (e *Engine) Telemetry() (vehicle.Telemetry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.tracker.Current()
	if !ok {
		return vehicle.Telemetry{}, false
	}
	return vehicle.NewTelemetry(e.cfg.VehicleID, e.cfg.VehicleType, s), true
}

// TelemetryJSON is Telemetry encoded for the wire.
func (e *Engine) TelemetryJSON() ([]byte, bool, error) {
	t, ok := e.Telemetry()
	if !ok {
		return nil, false, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode telemetry: %w", err)
	}
	return b, true, nil
}

// Snapshot returns the result of the most recent tick.
func (e *Engine) Snapshot() TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.last
	res.ActivePeers = append([]vehicle.PeerVehicle(nil), e.last.ActivePeers...)
	res.Alerts = append([]vehicle.Alert(nil), e.last.Alerts...)
	return res
}

// Path returns our retained positions as a polyline.
func (e *Engine) Path() []geo.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Path()
}

// History returns our retained self-states.
func (e *Engine) History() []vehicle.SelfState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.History()
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ResetSelf forgets our own track, as when location tracking is restarted.
func (e *Engine) ResetSelf() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker.Reset()
}

// VehicleID returns the id we broadcast under.
func (e *Engine) VehicleID() string { return e.cfg.VehicleID }

func (e *Engine) nowMs() int64 { return e.clock.Now().UnixMilli() }
