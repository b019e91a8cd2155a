// Package testutil provides shared test helpers and synthetic drives.
package testutil

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// Lausanne is the origin of the synthetic drives.
var Lausanne = geo.Point{Lat: 46.5197, Lng: 6.6323}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// MuteLogs silences the monitoring logger for the duration of the test.
func MuteLogs(t testing.TB) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
}

// NewJSONRequest builds a request carrying body encoded as JSON. A []byte
// or string body is sent as is.
func NewJSONRequest(t testing.TB, method, path string, body any) *http.Request {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		var err error
		if raw, err = json.Marshal(b); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes a recorded response body into a T.
func DecodeJSON[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// Drive returns n fixes starting at start, intervalMs apart, moving at
// speedKmh along headingDeg. Fixes carry no device speed or heading so the
// estimators derive both.
func Drive(start geo.Point, t0Ms int64, n int, intervalMs int64, speedKmh, headingDeg float64) []vehicle.PositionFix {
	step := speedKmh / 3.6 * float64(intervalMs) / 1000
	out := make([]vehicle.PositionFix, 0, n)
	p := start
	for i := 0; i < n; i++ {
		out = append(out, vehicle.PositionFix{
			Latitude:       p.Lat,
			Longitude:      p.Lng,
			AccuracyMeters: 5,
			TimestampMs:    t0Ms + int64(i)*intervalMs,
		})
		p = geo.Project(p, headingDeg, step)
	}
	return out
}

// PeerTelemetry builds a wire message for a peer at p.
func PeerTelemetry(id string, vt vehicle.VehicleType, p geo.Point, speedKmh, headingDeg float64) vehicle.Telemetry {
	return vehicle.NewTelemetry(id, vt, vehicle.SelfState{
		Latitude:   p.Lat,
		Longitude:  p.Lng,
		SpeedKmh:   speedKmh,
		HeadingDeg: &headingDeg,
	})
}
