package selfstate

import (
	"fmt"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// Tracker owns our own vehicle's state: the current SelfState and a bounded,
// append-only history of previous ones.
type Tracker struct {
	cfg     Config
	speed   *SpeedEstimator
	heading HeadingEstimator

	current *vehicle.SelfState
	history []vehicle.SelfState // oldest first, includes current
}

// NewTracker creates a Tracker with no state.
func NewTracker(cfg Config) *Tracker {
	if cfg.HistoryLength < 2 {
		cfg.HistoryLength = 2 // the bend check needs the previous entry
	}
	return &Tracker{
		cfg:     cfg,
		speed:   NewSpeedEstimator(cfg.Speed),
		heading: NewHeadingEstimator(cfg.Heading),
	}
}

// Ingest validates fix, runs both estimators and replaces the current state.
// Invalid and stale fixes return an error and leave all state untouched.
func (t *Tracker) Ingest(fix vehicle.PositionFix) (vehicle.SelfState, error) {
	if !fix.Point().Valid() {
		return vehicle.SelfState{}, fmt.Errorf("lat=%v lng=%v: %w", fix.Latitude, fix.Longitude, vehicle.ErrInvalidFix)
	}
	if t.current != nil && fix.TimestampMs <= t.current.TimestampMs {
		return vehicle.SelfState{}, fmt.Errorf("timestamp %d not after %d: %w",
			fix.TimestampMs, t.current.TimestampMs, vehicle.ErrStaleFix)
	}

	speed := t.speed.Update(fix)
	state := vehicle.SelfState{
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
		SpeedKmh:    speed,
		HeadingDeg:  t.heading.Estimate(t.current, fix, speed),
		TimestampMs: fix.TimestampMs,
	}

	if len(t.history) >= t.cfg.HistoryLength {
		copy(t.history, t.history[1:])
		t.history = t.history[:len(t.history)-1]
	}
	t.history = append(t.history, state)
	t.current = &t.history[len(t.history)-1]
	return state, nil
}

// Current returns the latest SelfState.
func (t *Tracker) Current() (vehicle.SelfState, bool) {
	if t.current == nil {
		return vehicle.SelfState{}, false
	}
	return *t.current, true
}

// Previous returns the SelfState emitted immediately before the current one.
func (t *Tracker) Previous() (vehicle.SelfState, bool) {
	if len(t.history) < 2 {
		return vehicle.SelfState{}, false
	}
	return t.history[len(t.history)-2], true
}

// History returns a copy of the retained states, oldest first.
func (t *Tracker) History() []vehicle.SelfState {
	out := make([]vehicle.SelfState, len(t.history))
	copy(out, t.history)
	return out
}

// Path returns the retained positions as a polyline.
func (t *Tracker) Path() []geo.Point {
	out := make([]geo.Point, len(t.history))
	for i, s := range t.history {
		out[i] = s.Point()
	}
	return out
}

// Reset forgets all state, as when tracking is restarted.
func (t *Tracker) Reset() {
	t.speed.Reset()
	t.current = nil
	t.history = nil
}
