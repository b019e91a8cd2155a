package vehicle

import (
	"fmt"

	"github.com/banshee-data/roadsense/internal/geo"
)

// PositionFix is one raw location sample from the location collaborator.
type PositionFix struct {
	Latitude       float64 `json:"lat"`
	Longitude      float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_m"`
	TimestampMs    int64   `json:"timestamp_ms"`

	// Optional device-reported values. ReportedSpeedKmh has already been
	// converted from the device's m/s.
	ReportedSpeedKmh   *float64 `json:"reported_speed_kmh,omitempty"`
	ReportedHeadingDeg *float64 `json:"reported_heading_deg,omitempty"`
}

// Point returns the fix position.
func (f PositionFix) Point() geo.Point {
	return geo.Point{Lat: f.Latitude, Lng: f.Longitude}
}

// SelfState is the smoothed estimate of our own vehicle. A new value is
// produced for every accepted fix; values are never mutated after emission.
type SelfState struct {
	Latitude    float64  `json:"lat"`
	Longitude   float64  `json:"lng"`
	SpeedKmh    float64  `json:"speed_kmh"`
	HeadingDeg  *float64 `json:"heading_deg,omitempty"`
	TimestampMs int64    `json:"timestamp_ms"`
}

// Point returns the self-state position.
func (s SelfState) Point() geo.Point {
	return geo.Point{Lat: s.Latitude, Lng: s.Longitude}
}

// Heading returns the heading or 0 when it is still undefined.
func (s SelfState) Heading() float64 {
	if s.HeadingDeg == nil {
		return 0
	}
	return *s.HeadingDeg
}

// VehicleType is the class of a peer vehicle.
type VehicleType int

const (
	Car VehicleType = iota
	Bike
	Truck
	Bus
)

// VehicleTypeFromCode maps a wire code to a VehicleType; unknown codes fall
// back to Car.
func VehicleTypeFromCode(code int) VehicleType {
	switch VehicleType(code) {
	case Car, Bike, Truck, Bus:
		return VehicleType(code)
	default:
		return Car
	}
}

// Code returns the wire code for t.
func (t VehicleType) Code() int { return int(t) }

func (t VehicleType) String() string {
	switch t {
	case Bike:
		return "bike"
	case Truck:
		return "truck"
	case Bus:
		return "bus"
	default:
		return "car"
	}
}

// ParseVehicleType accepts the names produced by String.
func ParseVehicleType(name string) (VehicleType, error) {
	for _, t := range []VehicleType{Car, Bike, Truck, Bus} {
		if t.String() == name {
			return t, nil
		}
	}
	return Car, fmt.Errorf("unknown vehicle type %q", name)
}

// PeerVehicle is the registry's view of another vehicle as handed to the
// hazard detector and the rendering collaborator. Latitude, Longitude and
// HeadingDeg are the logical state: as reported, or extrapolated while
// fading. The Rendered fields are the eased marker and are for display only.
// Per-peer alert times stay in the registry; see peers.Registry.LastAlert.
type PeerVehicle struct {
	ID           string      `json:"id"`
	Type         VehicleType `json:"type"`
	SpeedKmh     float64     `json:"speed_kmh"`
	Latitude     float64     `json:"lat"`
	Longitude    float64     `json:"lng"`
	HeadingDeg   float64     `json:"heading_deg"`
	LastUpdateMs int64       `json:"last_update_ms"`

	RenderedLatitude   float64 `json:"rendered_lat"`
	RenderedLongitude  float64 `json:"rendered_lng"`
	RenderedHeadingDeg float64 `json:"rendered_heading_deg"`

	// DisplaySpeedKmh is the acceleration-bounded speed of the rendered
	// marker; SpeedKmh is the last reported (or decaying) speed.
	DisplaySpeedKmh float64 `json:"display_speed_kmh"`

	// Weight decays from 1 to 0 while the peer is fading (opacity analogue).
	Weight float64 `json:"weight"`
	Fading bool    `json:"fading"`
}

// Point returns the logical position of the peer.
func (p PeerVehicle) Point() geo.Point {
	return geo.Point{Lat: p.Latitude, Lng: p.Longitude}
}

// RenderedPoint returns where the marker is drawn.
func (p PeerVehicle) RenderedPoint() geo.Point {
	return geo.Point{Lat: p.RenderedLatitude, Lng: p.RenderedLongitude}
}

// LastSeenSeconds is the whole number of seconds since the last report.
func (p PeerVehicle) LastSeenSeconds(nowMs int64) int64 {
	if nowMs <= p.LastUpdateMs {
		return 0
	}
	return (nowMs - p.LastUpdateMs) / 1000
}
