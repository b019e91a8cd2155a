// Package units provides shared constants and conversions for speed units.
// Speeds flow through the engine in km/h; devices report m/s or knots.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

const (
	kmhPerMPS  = 3.6
	mphPerMPS  = 2.2369362920544
	kmhPerKnot = 1.852
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from km/h to the target units.
func ConvertSpeed(speedKmh float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedKmh / kmhPerMPS
	case MPH:
		return speedKmh / kmhPerMPS * mphPerMPS
	default:
		return speedKmh
	}
}

// KmhFromMPS converts metres per second to km/h.
func KmhFromMPS(mps float64) float64 { return mps * kmhPerMPS }

// KmhFromKnots converts knots, as reported by NMEA receivers, to km/h.
func KmhFromKnots(kn float64) float64 { return kn * kmhPerKnot }

// MPSFromKmh converts km/h to metres per second.
func MPSFromKmh(kmh float64) float64 { return kmh / kmhPerMPS }

// FormatKmh renders a speed with one decimal, the precision peers exchange.
func FormatKmh(kmh float64) string {
	return strconv.FormatFloat(kmh, 'f', 1, 64)
}

// Round1 rounds to one decimal for display.
func Round1(v float64) float64 { return math.Round(v*10) / 10 }

// ParseKmh accepts a speed that arrived either as a JSON number or as a
// numeric string ("50", "42.5"). Non-finite and negative values are rejected.
func ParseKmh(v any) (float64, error) {
	var f float64
	switch s := v.(type) {
	case float64:
		f = s
	case float32:
		f = float64(s)
	case int:
		f = float64(s)
	case int64:
		f = float64(s)
	case string:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return 0, fmt.Errorf("empty speed")
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid speed %q: %w", s, err)
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("missing speed")
	default:
		return 0, fmt.Errorf("unsupported speed type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("speed out of range: %v", f)
	}
	return f, nil
}
