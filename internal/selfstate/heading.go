package selfstate

import (
	"math"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// HeadingEstimator derives a heading from device course or from position
// deltas. It is stateless; the previous SelfState carries everything needed.
type HeadingEstimator struct {
	cfg HeadingConfig
}

// NewHeadingEstimator creates a HeadingEstimator.
func NewHeadingEstimator(cfg HeadingConfig) HeadingEstimator {
	return HeadingEstimator{cfg: cfg}
}

// Estimate returns the heading for fix given the previous self-state and the
// speed just computed for fix. A nil result means the heading is undefined.
func (h HeadingEstimator) Estimate(prev *vehicle.SelfState, fix vehicle.PositionFix, speedKmh float64) *float64 {
	reported := normalized(fix.ReportedHeadingDeg)

	if prev == nil {
		return reported
	}

	if speedKmh < h.cfg.MinSpeedKmh {
		if reported != nil {
			return reported
		}
		return clone(prev.HeadingDeg)
	}

	if geo.DistanceMeters(prev.Point(), fix.Point()) < h.cfg.MinDisplacementM {
		return clone(prev.HeadingDeg)
	}

	bearing := geo.BearingDegrees(prev.Point(), fix.Point())
	if prev.HeadingDeg == nil {
		return &bearing
	}

	w := math.Max(h.cfg.BlendMin, math.Min(h.cfg.BlendMax, speedKmh/h.cfg.BlendSpeedKmh))
	blended := geo.BlendHeading(*prev.HeadingDeg, bearing, w)
	return &blended
}

func normalized(d *float64) *float64 {
	if d == nil || math.IsNaN(*d) || math.IsInf(*d, 0) {
		return nil
	}
	v := geo.NormalizeDegrees(*d)
	return &v
}

func clone(d *float64) *float64 {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
