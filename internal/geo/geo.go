// Package geo provides the great-circle primitives shared by the self-state
// estimators, the peer registry and the hazard detector.
package geo

import "math"

const (
	// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
	EarthRadiusMeters = 6371000.0

	// MetersPerDegreeLat is the flat-earth scale used when projecting short
	// displacements (a few hundred metres at most) onto lat/lng.
	MetersPerDegreeLat = 111111.0
)

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Valid reports whether p is a finite, in-range coordinate pair.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

// DistanceMeters returns the haversine distance between a and b in metres.
// The result is never negative and is exactly zero when a == b.
func DistanceMeters(a, b Point) float64 {
	if a == b {
		return 0
	}
	φ1, φ2 := rad(a.Lat), rad(b.Lat)
	Δφ := rad(b.Lat - a.Lat)
	Δλ := rad(b.Lng - a.Lng)

	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	// rounding can push h fractionally outside [0,1] for antipodal inputs
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// BearingDegrees returns the initial bearing from a to b in [0, 360).
// The direction is undefined when a == b; callers must guard that case.
func BearingDegrees(a, b Point) float64 {
	φ1, φ2 := rad(a.Lat), rad(b.Lat)
	Δλ := rad(b.Lng - a.Lng)

	y := math.Sin(Δλ) * math.Cos(φ2)
	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	return NormalizeDegrees(deg(math.Atan2(y, x)))
}

// NormalizeDegrees maps any finite angle into [0, 360).
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// SignedAngleDelta returns the shortest signed rotation from 'from' to 'to'
// in degrees, in the range (-180, 180].
func SignedAngleDelta(from, to float64) float64 {
	d := NormalizeDegrees(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

// BlendHeading blends prev toward next by weight w along the shortest arc.
// w = 0 returns prev, w = 1 returns next.
func BlendHeading(prev, next, w float64) float64 {
	return NormalizeDegrees(prev + SignedAngleDelta(prev, next)*w)
}

// Project moves p by meters along headingDeg using a local flat-earth
// approximation. It is only accurate for short displacements.
func Project(p Point, headingDeg, meters float64) Point {
	if meters == 0 {
		return p
	}
	θ := rad(headingDeg)
	dx := meters * math.Sin(θ) // east
	dy := meters * math.Cos(θ) // north

	metersPerLng := MetersPerDegreeLat * math.Cos(rad(p.Lat))
	out := Point{Lat: p.Lat + dy/MetersPerDegreeLat, Lng: p.Lng}
	if metersPerLng > 1e-9 {
		out.Lng = p.Lng + dx/metersPerLng
	}
	return out
}

// Lerp returns the point a fraction t of the way from a to b in lat/lng space.
func Lerp(a, b Point, t float64) Point {
	return Point{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}
