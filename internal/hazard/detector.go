// Package hazard decides, once per tick, which alerts the current self-state
// and peer set warrant. It performs no output; callers forward the returned
// alerts to an AlertSink.
package hazard

import (
	"math"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// Cooldowns stores per-peer, per-tier alert times. The peer registry
// implements it so cooldowns live and die with the peer entry.
type Cooldowns interface {
	LastAlert(id string, tier vehicle.AlertTier) (int64, bool)
	MarkAlert(id string, tier vehicle.AlertTier, nowMs int64)
}

// Input is everything the detector looks at in one tick.
type Input struct {
	Self     *vehicle.SelfState // nil until the first accepted fix
	Previous *vehicle.SelfState // state emitted before Self, if any
	Peers    []vehicle.PeerVehicle
	NowMs    int64
}

// Detector holds the global cooldown; all other state lives in Cooldowns.
type Detector struct {
	cfg Config

	lastGlobalMs int64
	hasGlobal    bool

	// bend is checked once per self-state, not once per tick
	bendCheckedMs int64
	bendChecked   bool
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Evaluate runs the proximity, bend and collision checks. It never fails:
// without a self-state there is simply nothing to report.
func (d *Detector) Evaluate(in Input, cd Cooldowns) []vehicle.Alert {
	if in.Self == nil || !in.Self.Point().Valid() {
		return nil
	}

	var alerts []vehicle.Alert
	alerts = append(alerts, d.proximity(in, cd)...)

	// A bend is consumed even during the cooldown; it never fires late.
	bendAlert, hasBend := d.bend(in)
	if d.hasGlobal && in.NowMs-d.lastGlobalMs < d.cfg.GlobalCooldown.Milliseconds() {
		return alerts
	}

	fired := false
	if hasBend {
		alerts = append(alerts, bendAlert)
		fired = true
	}
	if a, ok := d.collision(in); ok {
		alerts = append(alerts, a)
		fired = true
	}
	if fired {
		d.lastGlobalMs = in.NowMs
		d.hasGlobal = true
	}
	return alerts
}

// proximity raises fast-vehicle and fast-approach alerts, at most one per
// peer per tick, each tier under its own per-peer cooldown.
func (d *Detector) proximity(in Input, cd Cooldowns) []vehicle.Alert {
	var out []vehicle.Alert
	self := *in.Self
	for _, p := range in.Peers {
		rel := geo.NormalizeDegrees(p.HeadingDeg - self.Heading())
		behind := rel > 135 && rel < 225
		oncoming := rel < 45 || rel > 315
		if !behind && !oncoming {
			continue
		}

		dist := geo.DistanceMeters(self.Point(), p.Point())
		relSpeed := p.SpeedKmh - self.SpeedKmh

		var a vehicle.Alert
		var tier vehicle.AlertTier
		switch {
		case dist < d.cfg.CloseDistanceM && p.SpeedKmh > d.cfg.SpeedThresholdKmh:
			tier = vehicle.TierFastClose
			if behind {
				a = vehicle.Alert{Class: vehicle.FastBehind, Message: fastBehindMessage(dist)}
			} else {
				a = vehicle.Alert{Class: vehicle.FastOncoming, Message: fastOncomingMessage(dist)}
			}
		case dist < d.cfg.WarnDistanceM && relSpeed < d.cfg.ApproachRelativeSpeedKmh:
			tier = vehicle.TierApproach
			a = vehicle.Alert{Class: vehicle.ApproachFast, Message: approachOncomingMessage(dist)}
			if behind {
				a.Message = approachBehindMessage(dist)
			}
		default:
			continue
		}

		if last, ok := cd.LastAlert(p.ID, tier); ok && in.NowMs-last < d.cfg.PeerCooldown.Milliseconds() {
			continue
		}
		cd.MarkAlert(p.ID, tier, in.NowMs)

		a.SubjectID = p.ID
		a.TimestampMs = in.NowMs
		out = append(out, a)
	}
	return out
}

// turnDegrees is the unsigned turn between two headings in [0, 180].
func turnDegrees(a, b float64) float64 {
	return math.Abs(geo.SignedAngleDelta(a, b))
}

func (d *Detector) bend(in Input) (vehicle.Alert, bool) {
	if d.bendChecked && d.bendCheckedMs == in.Self.TimestampMs {
		return vehicle.Alert{}, false
	}
	d.bendChecked, d.bendCheckedMs = true, in.Self.TimestampMs

	if in.Previous == nil || in.Self.HeadingDeg == nil || in.Previous.HeadingDeg == nil {
		return vehicle.Alert{}, false
	}

	// Raw difference of the normalized headings, not the shortest arc: a
	// swing across north such as 330 to 40 reads as 290 and is no bend.
	swing := math.Abs(geo.NormalizeDegrees(*in.Self.HeadingDeg) - geo.NormalizeDegrees(*in.Previous.HeadingDeg))
	hairpin := swing > 135 && swing < 225
	sharp := swing > 45 && swing < 135
	if !hairpin && !sharp {
		return vehicle.Alert{}, false
	}

	opposing := false
	for _, p := range in.Peers {
		if geo.DistanceMeters(in.Self.Point(), p.Point()) < d.cfg.OpposingDistanceM &&
			turnDegrees(*in.Self.HeadingDeg, p.HeadingDeg) > 150 {
			opposing = true
			break
		}
	}

	class := vehicle.SharpBend
	if hairpin {
		class = vehicle.HairpinBend
	}
	return vehicle.Alert{Class: class, Message: bendMessage(hairpin, opposing), TimestampMs: in.NowMs}, true
}

// collision reports the first peer, in input order, whose time to contact
// falls inside the horizon.
func (d *Detector) collision(in Input) (vehicle.Alert, bool) {
	for _, p := range in.Peers {
		closing := math.Abs(p.SpeedKmh-in.Self.SpeedKmh) / 3.6
		if closing == 0 {
			continue
		}
		ttc := geo.DistanceMeters(in.Self.Point(), p.Point()) / closing
		if ttc > 0 && ttc < d.cfg.CollisionHorizonSecs {
			return vehicle.Alert{
				Class:       vehicle.CollisionRisk,
				SubjectID:   p.ID,
				Message:     collisionMessage(ttc),
				TimestampMs: in.NowMs,
			}, true
		}
	}
	return vehicle.Alert{}, false
}
