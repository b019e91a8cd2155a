package selfstate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// SpeedEstimator smooths the speed implied by consecutive fixes. It keeps
// only the previous fix and a short buffer of smoothed speeds.
type SpeedEstimator struct {
	cfg     SpeedConfig
	prev    *vehicle.PositionFix
	history []float64 // smoothed speeds, oldest first
}

// NewSpeedEstimator creates an estimator with no history.
func NewSpeedEstimator(cfg SpeedConfig) *SpeedEstimator {
	if cfg.HistoryLength < 1 {
		cfg.HistoryLength = 1
	}
	return &SpeedEstimator{cfg: cfg, history: make([]float64, 0, cfg.HistoryLength)}
}

// Reset discards the previous fix and the speed history.
func (e *SpeedEstimator) Reset() {
	e.prev = nil
	e.history = e.history[:0]
}

// LastSmoothed returns the most recent smoothed speed, or 0 when there is none.
func (e *SpeedEstimator) LastSmoothed() float64 {
	if len(e.history) == 0 {
		return 0
	}
	return e.history[len(e.history)-1]
}

// Update feeds the next fix and returns the speed estimate in km/h.
func (e *SpeedEstimator) Update(fix vehicle.PositionFix) float64 {
	prev := e.prev
	e.prev = &fix

	if reported, ok := usableSpeed(fix.ReportedSpeedKmh); ok {
		// Device speed wins; keep the filter primed so a later fallback to
		// position deltas starts from a sensible value.
		e.push(reported)
		return reported
	}

	if prev == nil {
		return 0
	}

	speed, err := e.smooth(*prev, fix)
	if err != nil {
		return e.LastSmoothed()
	}
	return speed
}

// usableSpeed reports whether a device speed can be trusted. NaN, infinite
// and negative readings are treated as absent so the position-derived
// estimate takes over.
func usableSpeed(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return 0, false
	}
	return *v, true
}

// smooth runs steps 1–6 of the filter for a pair of fixes.
func (e *SpeedEstimator) smooth(prev, fix vehicle.PositionFix) (float64, error) {
	dtMs := fix.TimestampMs - prev.TimestampMs
	dt := float64(dtMs) / 1000
	if dtMs < e.cfg.MinInterval.Milliseconds() || dtMs > e.cfg.MaxInterval.Milliseconds() {
		return 0, fmt.Errorf("Δt %.3fs outside [%s, %s]: %w",
			dt, e.cfg.MinInterval, e.cfg.MaxInterval, vehicle.ErrUnreliableSpeedSample)
	}

	last := e.LastSmoothed()
	distance := geo.DistanceMeters(prev.Point(), fix.Point())
	raw := distance / dt * 3.6

	// A large displacement in a short window is a GPS jump, not movement.
	if distance > e.cfg.JumpDistanceM && dtMs < e.cfg.JumpWindow.Milliseconds() && len(e.history) > 0 {
		raw = last
	}

	maxChange := e.cfg.MaxAccelKmhPerSec * dt
	clamped := math.Max(0, math.Min(last+maxChange, math.Max(last-maxChange, raw)))

	accuracyFactor := 1.0
	if fix.AccuracyMeters > 0 {
		accuracyFactor = math.Min(1, e.cfg.AccuracyReferenceM/fix.AccuracyMeters)
	}
	alpha := math.Min(e.cfg.MaxAlpha, e.cfg.BaseAlpha*accuracyFactor+clamped/100)
	smoothed := last*(1-alpha) + clamped*alpha

	e.push(smoothed)
	return e.trimmedMean(smoothed), nil
}

func (e *SpeedEstimator) push(v float64) {
	if len(e.history) >= e.cfg.HistoryLength {
		copy(e.history, e.history[1:])
		e.history = e.history[:len(e.history)-1]
	}
	e.history = append(e.history, v)
}

// trimmedMean drops a single minimum and maximum when at least three samples
// exist, otherwise it returns fallback.
func (e *SpeedEstimator) trimmedMean(fallback float64) float64 {
	n := len(e.history)
	if n < 3 {
		return fallback
	}
	sum := floats.Sum(e.history) - floats.Min(e.history) - floats.Max(e.history)
	return sum / float64(n-2)
}
