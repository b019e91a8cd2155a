package gnss

import (
	"errors"

	"github.com/banshee-data/roadsense/internal/units"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

const (
	// DefaultUERE is the user equivalent range error used to turn HDOP into
	// an accuracy radius.
	DefaultUERE = 5.0
	// DefaultAccuracyM is assumed until a GGA sentence supplies an HDOP.
	DefaultAccuracyM = 10.0
)

// Init is the command set sent to MTK-based receivers on start-up: RMC and
// GGA only, at 1 Hz.
var Init = []string{
	Command("PMTK314,0,1,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0"),
	Command("PMTK220,1000"),
}

// Assembler turns a stream of sentences into PositionFix values. RMC
// sentences produce fixes; GGA sentences refine their accuracy.
type Assembler struct {
	UERE float64
	// IgnoreDeviceSpeed drops the receiver's speed and course so the
	// estimators derive them from position deltas.
	IgnoreDeviceSpeed bool

	hdop    float64
	hasHDOP bool
}

// NewAssembler creates an Assembler with the default UERE.
func NewAssembler() *Assembler {
	return &Assembler{UERE: DefaultUERE}
}

// Feed consumes one line. It returns a fix and true when the line completed
// one. Lines that are not position sentences are ignored without error.
func (a *Assembler) Feed(line string) (vehicle.PositionFix, bool, error) {
	s, err := Parse(line)
	if err != nil {
		if errors.Is(err, ErrNotNMEA) {
			return vehicle.PositionFix{}, false, nil
		}
		return vehicle.PositionFix{}, false, err
	}

	switch s.Type {
	case "GGA":
		g, err := ParseGGA(s)
		if err != nil {
			a.hasHDOP = false
			return vehicle.PositionFix{}, false, err
		}
		if g.HDOP > 0 {
			a.hdop, a.hasHDOP = g.HDOP, true
		}
		return vehicle.PositionFix{}, false, nil

	case "RMC":
		r, err := ParseRMC(s)
		if err != nil {
			return vehicle.PositionFix{}, false, err
		}
		return a.fix(r), true, nil
	}
	return vehicle.PositionFix{}, false, nil
}

func (a *Assembler) fix(r RMC) vehicle.PositionFix {
	f := vehicle.PositionFix{
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		AccuracyMeters: DefaultAccuracyM,
		TimestampMs:    r.Time.UnixMilli(),
	}
	if a.hasHDOP {
		uere := a.UERE
		if uere <= 0 {
			uere = DefaultUERE
		}
		f.AccuracyMeters = a.hdop * uere
	}
	if a.IgnoreDeviceSpeed {
		return f
	}
	if r.SpeedKnot != nil {
		kmh := units.KmhFromKnots(*r.SpeedKnot)
		f.ReportedSpeedKmh = &kmh
	}
	if r.CourseDeg != nil {
		c := *r.CourseDeg
		f.ReportedHeadingDeg = &c
	}
	return f
}
