package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/roadsense/internal/db"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func trace(n int) []vehicle.SelfState {
	out := make([]vehicle.SelfState, n)
	for i := range out {
		out[i] = vehicle.SelfState{
			Latitude:    46.5,
			Longitude:   6.6,
			SpeedKmh:    float64(i * 5),
			TimestampMs: t0.Add(time.Duration(i) * time.Second).UnixMilli(),
		}
	}
	return out
}

func TestParseWindow(t *testing.T) {
	now := t0.Add(time.Hour)
	tests := []struct {
		name     string
		from, to string
		wantFrom int64
		wantTo   int64
		wantErr  bool
	}{
		{name: "defaults", wantFrom: 0, wantTo: now.UnixMilli()},
		{name: "from only", from: "2026-10-18T09:00:00Z", wantFrom: t0.UnixMilli(), wantTo: now.UnixMilli()},
		{name: "both", from: "2026-10-18T09:00:00Z", to: "2026-10-18T09:30:00Z", wantFrom: t0.UnixMilli(), wantTo: t0.Add(30 * time.Minute).UnixMilli()},
		{name: "reversed", from: "2026-10-18T09:30:00Z", to: "2026-10-18T09:00:00Z", wantErr: true},
		{name: "garbage", from: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, to, err := parseWindow(tt.from, tt.to, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, f)
			assert.Equal(t, tt.wantTo, to)
		})
	}
}

func TestSpeedAt(t *testing.T) {
	states := trace(5)
	assert.Equal(t, 0.0, speedAt(states, t0.UnixMilli()-1))
	assert.Equal(t, 10.0, speedAt(states, t0.Add(2500*time.Millisecond).UnixMilli()))
	assert.Equal(t, 20.0, speedAt(states, t0.Add(time.Hour).UnixMilli()))
}

func TestBuildPlot(t *testing.T) {
	_, err := buildPlot(nil, nil)
	assert.Error(t, err)

	alerts := []vehicle.Alert{
		{Class: vehicle.SharpBend, TimestampMs: t0.Add(2 * time.Second).UnixMilli()},
		{Class: vehicle.FastBehind, TimestampMs: t0.Add(time.Hour).UnixMilli()}, // outside the trace
	}
	p, err := buildPlot(trace(10), alerts)
	require.NoError(t, err)
	assert.Equal(t, "Minutes", p.X.Label.Text)
	assert.InDelta(t, 49.5, p.Y.Max, 1e-9)

	out := filepath.Join(t.TempDir(), "speed.png")
	require.NoError(t, p.Save(4*vg.Inch, 2*vg.Inch, out))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestBuildPlotFromJournal(t *testing.T) {
	journal, err := db.NewDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer journal.Close()

	for _, s := range trace(6) {
		require.NoError(t, journal.RecordSelfState(s))
	}
	require.NoError(t, journal.RecordAlert(vehicle.Alert{Class: vehicle.CollisionRisk, SubjectID: "p", Message: "m", TimestampMs: t0.Add(3 * time.Second).UnixMilli()}))

	states, err := journal.SelfStates(t0.UnixMilli(), t0.Add(time.Minute).UnixMilli(), 0)
	require.NoError(t, err)
	require.Len(t, states, 6)
	alerts, err := journal.Alerts(100)
	require.NoError(t, err)

	p, err := buildPlot(states, alerts)
	require.NoError(t, err)
	require.NoError(t, p.Save(4*vg.Inch, 2*vg.Inch, filepath.Join(t.TempDir(), "speed.svg")))
}
