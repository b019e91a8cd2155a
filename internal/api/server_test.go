package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/roadsense/internal/config"
	"github.com/banshee-data/roadsense/internal/db"
	"github.com/banshee-data/roadsense/internal/engine"
	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/serialmux"
	"github.com/banshee-data/roadsense/internal/testutil"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

var epoch = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine  *engine.Engine
	clock   *timeutil.MockClock
	journal *db.DB
	hub     *Hub
	mux     http.Handler
}

func newFixture(t *testing.T, withJournal bool) *fixture {
	t.Helper()
	testutil.MuteLogs(t)
	clock := timeutil.NewMockClock(epoch)
	e := engine.New(engine.ConfigFromTuning(config.DefaultTuningConfig(), "self-1", vehicle.Car), clock)
	f := &fixture{engine: e, clock: clock, hub: NewHub()}
	if withJournal {
		j, err := db.NewDB(filepath.Join(t.TempDir(), "journal.db"))
		require.NoError(t, err)
		t.Cleanup(func() { j.Close() })
		f.journal = j
	}
	gnss := serialmux.NewFixHandler(nil, e)
	f.mux = LoggingMiddleware(NewServer(e, f.journal, gnss, f.hub).ServeMux())
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// drive feeds ten fixes eastwards and returns the last position.
func (f *fixture) drive(t *testing.T) geo.Point {
	t.Helper()
	fixes := testutil.Drive(testutil.Lausanne, epoch.UnixMilli(), 10, 1000, 36, 90)
	for _, fix := range fixes {
		rec := f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/api/fix", fix))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	last := fixes[len(fixes)-1]
	f.clock.Set(time.UnixMilli(last.TimestampMs))
	return last.Point()
}

func TestState_Empty(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.JSONEq(t, `{"now_ms":0,"peers":[]}`, rec.Body.String())

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/state", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestIngestFix(t *testing.T) {
	f := newFixture(t, false)
	f.drive(t)

	stale := testutil.Drive(testutil.Lausanne, epoch.UnixMilli(), 1, 1000, 0, 0)[0]
	rec := f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/api/fix", stale))
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	bad := vehicle.PositionFix{Latitude: 91, TimestampMs: epoch.Add(time.Hour).UnixMilli()}
	rec = f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/api/fix", bad))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/api/fix", "{not json"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/path", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	path := testutil.DecodeJSON[[][2]float64](t, rec)
	require.Len(t, path, 10)
	assert.Equal(t, [2]float64{testutil.Lausanne.Lat, testutil.Lausanne.Lng}, path[0])

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/telemetry", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	tel := testutil.DecodeJSON[vehicle.Telemetry](t, rec)
	assert.Equal(t, "self-1", tel.ID)
	assert.InDelta(t, 90, tel.HeadingDeg, 1)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/telemetry", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestIngestPeersAndState(t *testing.T) {
	f := newFixture(t, false)
	pos := f.drive(t)

	ahead := geo.Project(pos, 90, 80)
	payload := []vehicle.Telemetry{
		testutil.PeerTelemetry("peer-1", vehicle.Truck, ahead, 60, 270),
		testutil.PeerTelemetry("self-1", vehicle.Car, pos, 36, 90),
	}
	rec := f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/api/peers", payload))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/api/peers", `[{"i":"x"}]`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)

	f.engine.Tick(f.clock.Now().UnixMilli())

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	state := testutil.DecodeJSON[stateView](t, rec)
	require.NotNil(t, state.Self)
	require.Len(t, state.Peers, 1)
	assert.Equal(t, "peer-1", state.Peers[0].ID)
	assert.Equal(t, vehicle.Truck, state.Peers[0].Type)
	require.NotNil(t, state.Peers[0].DistanceM)
	assert.InDelta(t, 80, *state.Peers[0].DistanceM, 1)
	assert.Empty(t, state.Peers[0].LastSeen)

	// fading peers carry a last-seen description
	f.clock.Advance(7 * time.Second)
	f.engine.Tick(f.clock.Now().UnixMilli())
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	state = testutil.DecodeJSON[stateView](t, rec)
	require.Len(t, state.Peers, 1)
	assert.Equal(t, "Last seen 7s ago", state.Peers[0].LastSeen)
}

func TestStatsAndAlerts(t *testing.T) {
	f := newFixture(t, true)
	f.drive(t)
	require.NoError(t, f.journal.RecordAlert(vehicle.Alert{Class: vehicle.SharpBend, Message: "Sharp bend ahead", TimestampMs: 1}))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	stats := testutil.DecodeJSON[statsView](t, rec)
	assert.Equal(t, int64(10), stats.Engine.FixesAccepted)
	require.NotNil(t, stats.GNSS)
	assert.Equal(t, map[vehicle.HazardClass]int{vehicle.SharpBend: 1}, stats.Alerts)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/alerts?limit=5", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	alerts := testutil.DecodeJSON[[]vehicle.Alert](t, rec)
	require.Len(t, alerts, 1)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/alerts?limit=0", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	nj := newFixture(t, false)
	rec = nj.do(t, httptest.NewRequest(http.MethodGet, "/api/alerts", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestCharts(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/charts/speed", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	f.drive(t)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/charts/speed", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "speed_kmh")

	require.NoError(t, f.journal.RecordAlert(vehicle.Alert{Class: vehicle.HairpinBend, Message: "Hairpin bend ahead", TimestampMs: 1}))
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/charts/alerts", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "hairpin_bend")
}

func TestStream(t *testing.T) {
	f := newFixture(t, false)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first Update
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "tick", first.Type)

	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	f.hub.Emit(vehicle.Alert{Class: vehicle.CollisionRisk, SubjectID: "p", Message: "m", TimestampMs: 5})
	var got struct {
		Type string        `json:"type"`
		Data vehicle.Alert `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "alert", got.Type)
	assert.Equal(t, vehicle.CollisionRisk, got.Data.Class)

	f.hub.EveryN = 2
	f.hub.ObserveTick(engine.TickResult{NowMs: 1})
	f.hub.ObserveTick(engine.TickResult{NowMs: 2})
	var tick struct {
		Type string    `json:"type"`
		Data stateView `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&tick))
	assert.Equal(t, int64(2), tick.Data.NowMs)

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
