package vehicle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/units"
)

// Telemetry is the wire schema exchanged between vehicles. The short keys
// match what deployed relays and peers already speak.
type Telemetry struct {
	ID         string  `json:"i"`
	TypeCode   int     `json:"t"`
	SpeedKmh   string  `json:"s"`
	Latitude   float64 `json:"la"`
	Longitude  float64 `json:"lo"`
	HeadingDeg float64 `json:"d"`
}

// NewTelemetry builds the outbound message for our own vehicle.
func NewTelemetry(id string, vt VehicleType, s SelfState) Telemetry {
	return Telemetry{
		ID:         id,
		TypeCode:   vt.Code(),
		SpeedKmh:   units.FormatKmh(s.SpeedKmh),
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		HeadingDeg: s.Heading(),
	}
}

// PeerReport is a validated peer telemetry message. Only values of this type
// reach the registry.
type PeerReport struct {
	ID         string
	Type       VehicleType
	SpeedKmh   float64
	Latitude   float64
	Longitude  float64
	HeadingDeg float64
}

// Point returns the reported position.
func (r PeerReport) Point() geo.Point {
	return geo.Point{Lat: r.Latitude, Lng: r.Longitude}
}

// Telemetry re-encodes a validated report in the wire schema.
func (r PeerReport) Telemetry() Telemetry {
	return Telemetry{
		ID:         r.ID,
		TypeCode:   r.Type.Code(),
		SpeedKmh:   units.FormatKmh(r.SpeedKmh),
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		HeadingDeg: r.HeadingDeg,
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPeerReport, fmt.Sprintf(format, args...))
}

func number(raw map[string]any, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, malformed("missing %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, malformed("%q must be a number, got %T", key, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, malformed("%q is not finite", key)
	}
	return f, nil
}

// ParsePeerReport validates a decoded JSON object. Numbers are expected as
// float64, as produced by encoding/json. The speed may be a number or a
// numeric string; an absent or unknown vehicle type code maps to Car.
func ParsePeerReport(raw map[string]any) (PeerReport, error) {
	var r PeerReport

	id, ok := raw["i"].(string)
	if !ok || id == "" {
		return r, malformed("missing id")
	}
	r.ID = id

	if v, ok := raw["t"].(float64); ok && v == math.Trunc(v) {
		r.Type = VehicleTypeFromCode(int(v))
	}

	speed, err := units.ParseKmh(raw["s"])
	if err != nil {
		return r, malformed("speed: %v", err)
	}
	r.SpeedKmh = speed

	if r.Latitude, err = number(raw, "la"); err != nil {
		return r, err
	}
	if r.Longitude, err = number(raw, "lo"); err != nil {
		return r, err
	}
	if !r.Point().Valid() {
		return r, malformed("coordinates out of range (%f, %f)", r.Latitude, r.Longitude)
	}
	heading, err := number(raw, "d")
	if err != nil {
		return r, err
	}
	r.HeadingDeg = geo.NormalizeDegrees(heading)

	return r, nil
}

// PayloadResult is the outcome of decoding one transport payload.
type PayloadResult struct {
	Reports  []PeerReport
	Rejected []error
	// Empty is set when the payload carried no entries at all (null, {}, [],
	// blank) or could not be decoded. The registry applies its empty-report
	// policy in that case.
	Empty bool
}

// ParsePeerPayload decodes a relay/broadcast payload holding either a single
// telemetry object or an array of them. Malformed entries are reported in
// Rejected and never appear in Reports.
func ParsePeerPayload(data []byte) PayloadResult {
	var res PayloadResult

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		res.Empty = true
		return res
	}

	var entries []map[string]any
	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			res.Empty = true
			res.Rejected = append(res.Rejected, fmt.Errorf("%w: %v", ErrMalformedPeerReport, err))
			return res
		}
		for _, item := range arr {
			var m map[string]any
			if err := json.Unmarshal(item, &m); err != nil || m == nil {
				res.Rejected = append(res.Rejected, malformed("entry is not an object"))
				continue
			}
			entries = append(entries, m)
		}
		if len(arr) == 0 {
			res.Empty = true
		}
	case '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			res.Empty = true
			res.Rejected = append(res.Rejected, fmt.Errorf("%w: %v", ErrMalformedPeerReport, err))
			return res
		}
		if len(m) == 0 {
			res.Empty = true
			return res
		}
		entries = append(entries, m)
	default:
		// null and any other scalar
		res.Empty = true
		if !bytes.Equal(trimmed, []byte("null")) {
			res.Rejected = append(res.Rejected, malformed("unexpected payload %.32q", trimmed))
		}
		return res
	}

	for _, m := range entries {
		r, err := ParsePeerReport(m)
		if err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}
		res.Reports = append(res.Reports, r)
	}
	return res
}
