package main

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/peerlink"
	"github.com/banshee-data/roadsense/internal/testutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// writeConvoy records a peer closing fast from behind on a vehicle
// heading east.
func writeConvoy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convoy.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	rec, err := peerlink.NewRecorder(f, peerlink.DefaultPort)
	require.NoError(t, err)

	epoch := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: peerlink.DefaultPort}
	record := func(ts time.Time, tel vehicle.Telemetry) {
		b, err := json.Marshal(tel)
		require.NoError(t, err)
		require.NoError(t, rec.Record(ts, src, b))
	}
	for i := 0; i < 4; i++ {
		ts := epoch.Add(time.Duration(i) * time.Second)
		record(ts, testutil.PeerTelemetry("me", vehicle.Car, geo.Project(testutil.Lausanne, 90, float64(10*i)), 36, 90))
		if i < 3 {
			record(ts.Add(500*time.Millisecond), testutil.PeerTelemetry("peer", vehicle.Car, geo.Project(testutil.Lausanne, 90, 80-float64(16*i)), 60, 270))
		}
	}
	return path
}

func TestRun(t *testing.T) {
	path := writeConvoy(t)

	var out bytes.Buffer
	require.NoError(t, run([]string{"-pcap", path, "-self", "me"}, &out))

	text := out.String()
	assert.Contains(t, text, string(vehicle.FastBehind))
	assert.Contains(t, text, `"self_fixes": 4`)
	assert.Contains(t, text, `"peer_polls": 3`)
}

func TestRun_Errors(t *testing.T) {
	path := writeConvoy(t)
	tests := []struct {
		name string
		args []string
	}{
		{"missing pcap", []string{"-self", "me"}},
		{"missing self", []string{"-pcap", path}},
		{"no such file", []string{"-pcap", filepath.Join(t.TempDir(), "nope.pcap"), "-self", "me"}},
		{"bad vehicle type", []string{"-pcap", path, "-self", "me", "-vehicle-type", "hovercraft"}},
		{"bad config", []string{"-pcap", path, "-self", "me", "-config", filepath.Join(t.TempDir(), "nope.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(tt.args, &out))
		})
	}
}
