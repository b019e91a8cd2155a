package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/roadsense/internal/config"
	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

var epoch = time.Unix(1_700_000_000, 0)

func ptr(v float64) *float64 { return &v }

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func newTestEngine(t *testing.T, mutate func(*config.TuningConfig)) (*Engine, *timeutil.MockClock) {
	t.Helper()
	tuning := config.DefaultTuningConfig()
	if mutate != nil {
		mutate(tuning)
	}
	require.NoError(t, tuning.Validate())
	clock := timeutil.NewMockClock(epoch)
	return New(ConfigFromTuning(tuning, "self-1", vehicle.Car), clock), clock
}

func selfFix(p geo.Point, tsMs int64, speedKmh, heading float64) vehicle.PositionFix {
	return vehicle.PositionFix{
		Latitude: p.Lat, Longitude: p.Lng, AccuracyMeters: 5, TimestampMs: tsMs,
		ReportedSpeedKmh: ptr(speedKmh), ReportedHeadingDeg: ptr(heading),
	}
}

func peerJSON(id string, p geo.Point, speed string, heading float64) string {
	return fmt.Sprintf(`{"i":%q,"t":0,"s":%q,"la":%v,"lo":%v,"d":%v}`, id, speed, p.Lat, p.Lng, heading)
}

func TestEngine_ApproachScenario(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	now := clock.Now().UnixMilli()

	_, err := e.IngestSelfFix(selfFix(geo.Point{}, now, 0, 0))
	require.NoError(t, err)
	require.NoError(t, e.IngestPeerPayload([]byte(`[{"i":"v1","t":0,"s":"50","la":0.001,"lo":0,"d":180}]`)))

	res := e.Tick(now)
	require.Len(t, res.ActivePeers, 1)
	assert.Empty(t, res.Alerts)

	_, err = e.IngestSelfFix(selfFix(geo.Point{}, now+1000, 80, 0))
	require.NoError(t, err)

	res = e.Tick(now + 1000)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, vehicle.ApproachFast, res.Alerts[0].Class)
	assert.Equal(t, "v1", res.Alerts[0].SubjectID)
	require.NotNil(t, res.Self)
	assert.Equal(t, 80.0, res.Self.SpeedKmh)

	res = e.Tick(now + 1050)
	assert.Empty(t, res.Alerts)
}

// A re-report jumps the peer inside the close radius; hazard logic must use
// the reported position and heading even while the marker is still easing.
func TestEngine_HazardsUseReportedPeerState(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	now := clock.Now().UnixMilli()

	_, err := e.IngestSelfFix(selfFix(geo.Point{}, now, 0, 0))
	require.NoError(t, err)
	require.NoError(t, e.IngestPeerPayload([]byte("["+peerJSON("v1", geo.Project(geo.Point{}, 0, 400), "50", 90)+"]")))
	res := e.Tick(now)
	require.Len(t, res.ActivePeers, 1)
	assert.Empty(t, res.Alerts)

	near := geo.Project(geo.Point{}, 0, 80)
	require.NoError(t, e.IngestPeerPayload([]byte("["+peerJSON("v1", near, "50", 180)+"]")))

	res = e.Tick(now + 50)
	require.Len(t, res.ActivePeers, 1)
	peer := res.ActivePeers[0]
	assert.Equal(t, near, peer.Point())
	assert.Equal(t, 180.0, peer.HeadingDeg)
	assert.Greater(t, geo.DistanceMeters(geo.Point{}, peer.RenderedPoint()), 100.0, "marker still easing")
	assert.NotEqual(t, 180.0, peer.RenderedHeadingDeg)

	require.Len(t, res.Alerts, 1)
	assert.Equal(t, vehicle.FastBehind, res.Alerts[0].Class)
	assert.Equal(t, "v1", res.Alerts[0].SubjectID)
}

func TestEngine_RejectsBadInput(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	now := clock.Now().UnixMilli()

	_, err := e.IngestSelfFix(vehicle.PositionFix{Latitude: 120, TimestampMs: now})
	assert.ErrorIs(t, err, vehicle.ErrInvalidFix)

	_, err = e.IngestSelfFix(selfFix(geo.Point{}, now, 0, 0))
	require.NoError(t, err)
	_, err = e.IngestSelfFix(selfFix(geo.Point{}, now-1, 0, 0))
	assert.ErrorIs(t, err, vehicle.ErrStaleFix)

	err = e.IngestPeerReport(map[string]any{"i": "v1", "s": "10", "la": "north", "lo": 0.0, "d": 0.0})
	assert.ErrorIs(t, err, vehicle.ErrMalformedPeerReport)

	err = e.IngestPeerPayload([]byte(`[{"i":"v2","s":"10","la":0,"lo":0,"d":0},{"s":"10","la":0,"lo":0,"d":0}]`))
	assert.ErrorIs(t, err, vehicle.ErrMalformedPeerReport)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.FixesAccepted)
	assert.Equal(t, int64(2), stats.FixesRejected)
	assert.Equal(t, int64(1), stats.ReportsAccepted)
	assert.Equal(t, int64(2), stats.ReportsRejected)

	res := e.Tick(now)
	require.Len(t, res.ActivePeers, 1)
	assert.Equal(t, "v2", res.ActivePeers[0].ID)
}

func TestEngine_IgnoresOwnEcho(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.IngestPeerPayload([]byte("["+peerJSON("self-1", geo.Point{}, "10", 0)+"]")))
	require.NoError(t, e.IngestPeerReport(map[string]any{"i": "self-1", "s": 10.0, "la": 0.0, "lo": 0.0, "d": 0.0}))
	assert.Empty(t, e.Tick(0).ActivePeers)
}

func TestEngine_EmptyReportPolicy(t *testing.T) {
	for _, tc := range []struct {
		policy    string
		wantPeers int
	}{
		{config.EmptyReportClear, 0},
		{config.EmptyReportKeep, 1},
	} {
		t.Run(tc.policy, func(t *testing.T) {
			e, clock := newTestEngine(t, func(c *config.TuningConfig) {
				c.EmptyReportPolicy = &tc.policy
			})
			now := clock.Now().UnixMilli()
			require.NoError(t, e.IngestPeerPayload([]byte(peerJSON("v1", geo.Point{}, "40", 0))))
			require.Len(t, e.Tick(now).ActivePeers, 1)

			require.NoError(t, e.IngestPeerPayload([]byte(`{}`)))
			assert.Len(t, e.Tick(now+50).ActivePeers, tc.wantPeers)

			require.NoError(t, e.IngestPeerPayload([]byte(peerJSON("v1", geo.Point{}, "40", 0))))
			e.IngestPeerPollError(errors.New("connection refused"))
			assert.Len(t, e.Tick(now+100).ActivePeers, tc.wantPeers)
			assert.Equal(t, int64(2), e.Stats().EmptyPolls)
		})
	}
}

func TestEngine_PeerLifecycle(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	start := clock.Now().UnixMilli()
	p := geo.Point{Lat: 48.1, Lng: 11.5}
	require.NoError(t, e.IngestPeerPayload([]byte(peerJSON("v1", p, "36", 90))))

	for ts := start; ts <= start+6000; ts += 50 {
		e.Tick(ts)
	}
	res := e.Snapshot()
	require.Len(t, res.ActivePeers, 1)
	got := res.ActivePeers[0]
	assert.Less(t, got.Weight, 1.0)
	assert.True(t, got.Fading)
	assert.NotEqual(t, p, got.Point())
	assert.Equal(t, int64(6), got.LastSeenSeconds(start+6000))

	assert.Empty(t, e.Tick(start+11000).ActivePeers)
}

func TestEngine_Telemetry(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	_, ok := e.Telemetry()
	assert.False(t, ok)
	b, ok, err := e.TelemetryJSON()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, b)

	_, err = e.IngestSelfFix(selfFix(geo.Point{Lat: 12.5, Lng: 77.6}, clock.Now().UnixMilli(), 42.26, 270))
	require.NoError(t, err)

	tel, ok := e.Telemetry()
	require.True(t, ok)
	assert.Equal(t, vehicle.Telemetry{ID: "self-1", TypeCode: 0, SpeedKmh: "42.3", Latitude: 12.5, Longitude: 77.6, HeadingDeg: 270}, tel)

	b, ok, err = e.TelemetryJSON()
	require.NoError(t, err)
	require.True(t, ok)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "42.3", decoded["s"])
	assert.Equal(t, "self-1", decoded["i"])
}

func TestEngine_PathAndReset(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	now := clock.Now().UnixMilli()
	p := geo.Point{Lat: 1, Lng: 1}
	for i := 0; i < 3; i++ {
		_, err := e.IngestSelfFix(selfFix(p, now+int64(i)*1000, 30, 0))
		require.NoError(t, err)
		p = geo.Project(p, 0, 8)
	}
	assert.Len(t, e.Path(), 3)
	assert.Len(t, e.History(), 3)

	e.ResetSelf()
	assert.Empty(t, e.Path())
	_, ok := e.Telemetry()
	assert.False(t, ok)
}

func TestEngine_ConcurrentEntryPoints(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	now := clock.Now().UnixMilli()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = e.IngestSelfFix(selfFix(geo.Point{}, now+int64(i)*100, 20, 0))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = e.IngestPeerPayload([]byte(peerJSON(fmt.Sprintf("v%d", i%7), geo.Point{}, "20", 0)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.Tick(now + int64(i)*50)
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(200), e.Stats().Ticks)
	assert.Equal(t, int64(200), e.Stats().FixesAccepted)
}

type chanSink chan vehicle.Alert

func (c chanSink) Emit(a vehicle.Alert) { c <- a }

func TestRunner_ForwardsAlerts(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	now := clock.Now().UnixMilli()

	_, err := e.IngestSelfFix(selfFix(geo.Point{}, now, 60, 0))
	require.NoError(t, err)
	require.NoError(t, e.IngestPeerPayload([]byte(peerJSON("v1", geo.Project(geo.Point{}, 180, 50), "60", 180))))

	sink := make(chanSink, 8)
	var observed sync.WaitGroup
	observed.Add(1)
	var once sync.Once

	r := NewRunner(e, clock, 50*time.Millisecond, LogSink{}, sink)
	r.Observe(func(TickResult) { once.Do(observed.Done) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var got vehicle.Alert
	deadline := time.After(2 * time.Second)
wait:
	for {
		clock.Advance(50 * time.Millisecond)
		select {
		case got = <-sink:
			break wait
		case <-deadline:
			t.Fatal("no alert forwarded")
		case <-time.After(10 * time.Millisecond):
		}
	}
	observed.Wait()

	assert.Equal(t, vehicle.FastBehind, got.Class)
	assert.Equal(t, "v1", got.SubjectID)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []vehicle.Telemetry
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, t vehicle.Telemetry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, t)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestRunTelemetry(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	pub := &recordingPublisher{err: errors.New("relay down")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunTelemetry(ctx, e, clock, time.Second, pub) }()

	// No fix yet: nothing is published.
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, pub.count())

	_, err := e.IngestSelfFix(selfFix(geo.Point{}, clock.Now().UnixMilli(), 10, 0))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return pub.count() > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type scriptedSource struct {
	mu       sync.Mutex
	payloads [][]byte
	errs     []error
	calls    int
}

func (s *scriptedSource) Receive(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.payloads) {
		return s.payloads[i], s.errs[i]
	}
	return nil, errors.New("exhausted")
}

func TestRunPeerPoll(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	src := &scriptedSource{
		payloads: [][]byte{[]byte("[" + peerJSON("v1", geo.Point{}, "30", 0) + "]")},
		errs:     []error{nil},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunPeerPoll(ctx, e, clock, 2*time.Second, src) }()

	require.Eventually(t, func() bool {
		clock.Advance(2 * time.Second)
		return e.Stats().ReportsAccepted == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The next poll fails and the default policy clears the registry.
	require.Eventually(t, func() bool {
		clock.Advance(2 * time.Second)
		return e.Stats().EmptyPolls > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, e.Tick(clock.Now().UnixMilli()).ActivePeers)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMultiSource(t *testing.T) {
	v1 := peerJSON("v1", geo.Point{}, "30", 0)
	v2 := peerJSON("v2", geo.Point{}, "40", 90)

	tests := []struct {
		name     string
		sources  MultiSource
		want     []string
		wantErr  bool
		wantBody string
	}{
		{
			name: "merges arrays and single objects",
			sources: MultiSource{
				&scriptedSource{payloads: [][]byte{[]byte("[" + v1 + "]")}, errs: []error{nil}},
				&scriptedSource{payloads: [][]byte{[]byte(v2)}, errs: []error{nil}},
			},
			want: []string{"v1", "v2"},
		},
		{
			name: "empty object from one relay keeps the other's peers",
			sources: MultiSource{
				&scriptedSource{payloads: [][]byte{[]byte("{}")}, errs: []error{nil}},
				&scriptedSource{payloads: [][]byte{[]byte("[" + v2 + "]")}, errs: []error{nil}},
			},
			want: []string{"v2"},
		},
		{
			name: "failed source skipped",
			sources: MultiSource{
				&scriptedSource{payloads: [][]byte{nil}, errs: []error{errors.New("timeout")}},
				&scriptedSource{payloads: [][]byte{[]byte("[]")}, errs: []error{nil}},
			},
			wantBody: "[]",
		},
		{
			name: "every source failed",
			sources: MultiSource{
				&scriptedSource{payloads: [][]byte{nil}, errs: []error{errors.New("timeout")}},
				&scriptedSource{payloads: [][]byte{nil}, errs: []error{errors.New("refused")}},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := tt.sources.Receive(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorContains(t, err, "refused")
				return
			}
			require.NoError(t, err)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, string(body))
				return
			}
			res := vehicle.ParsePeerPayload(body)
			require.Empty(t, res.Rejected)
			var ids []string
			for _, r := range res.Reports {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	t.Run("garbage is passed on for rejection", func(t *testing.T) {
		m := MultiSource{
			&scriptedSource{payloads: [][]byte{[]byte("<html>")}, errs: []error{nil}},
			&scriptedSource{payloads: [][]byte{[]byte("[" + v1 + "]")}, errs: []error{nil}},
		}
		body, err := m.Receive(context.Background())
		require.NoError(t, err)
		res := vehicle.ParsePeerPayload(body)
		assert.Len(t, res.Reports, 1)
		assert.Len(t, res.Rejected, 1)
	})
}

func TestEngine_PollErrorLogThrottled(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	e, clock := newTestEngine(t, nil)
	refused := errors.New("connection refused")
	for i := 0; i < 3; i++ {
		e.IngestPeerPollError(refused)
		clock.Set(clock.Now().Add(2 * time.Second))
	}
	require.Len(t, lines, 1)

	clock.Set(clock.Now().Add(pollLogInterval))
	e.IngestPeerPollError(refused)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "(2 similar suppressed)")
	assert.Equal(t, int64(4), e.Stats().EmptyPolls)
}
