// Package peers tracks the other vehicles we hear about: one entry per id,
// eased toward each new report, extrapolated and faded when reports stop, and
// evicted once they are too old.
package peers

import (
	"math"
	"sort"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// entry is the registry's private state for one peer.
type entry struct {
	report       vehicle.PeerReport // latest accepted report
	lastUpdateMs int64

	from            geo.Point // rendered position when the report arrived
	rendered        geo.Point
	renderedHeading float64
	displaySpeedKmh float64

	// lastAlert persists across updates; only eviction clears it.
	lastAlert map[vehicle.AlertTier]int64
}

// Registry owns the set of known peers. It is not safe for concurrent use;
// the engine serialises access.
type Registry struct {
	cfg   Config
	peers map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.EmptyPolicy == "" {
		cfg.EmptyPolicy = ClearOnEmpty
	}
	return &Registry{cfg: cfg, peers: make(map[string]*entry)}
}

// Ingest inserts or overwrites the entry for rep.ID. The rendered marker
// glides from where it is now toward the new report; cooldowns are kept.
func (r *Registry) Ingest(rep vehicle.PeerReport, nowMs int64) {
	e, ok := r.peers[rep.ID]
	if !ok {
		r.peers[rep.ID] = &entry{
			report:          rep,
			lastUpdateMs:    nowMs,
			from:            rep.Point(),
			rendered:        rep.Point(),
			renderedHeading: rep.HeadingDeg,
			displaySpeedKmh: rep.SpeedKmh,
			lastAlert:       make(map[vehicle.AlertTier]int64),
		}
		return
	}
	e.report = rep
	e.lastUpdateMs = nowMs
	e.from = e.rendered
}

// IngestBatch applies one transport poll. An empty poll triggers the
// configured EmptyReportPolicy and reports whether the registry was cleared.
func (r *Registry) IngestBatch(reports []vehicle.PeerReport, empty bool, nowMs int64) (cleared bool) {
	if empty {
		if r.cfg.EmptyPolicy == ClearOnEmpty {
			if n := len(r.peers); n > 0 {
				monitoring.Logf("peers: empty poll, clearing %d peer(s)", n)
			}
			r.Clear()
			return true
		}
		return false
	}
	for _, rep := range reports {
		r.Ingest(rep, nowMs)
	}
	return false
}

// Clear drops every entry together with its cooldowns.
func (r *Registry) Clear() {
	clear(r.peers)
}

// Len returns the number of live entries.
func (r *Registry) Len() int { return len(r.peers) }

// Has reports whether id has a live entry.
func (r *Registry) Has(id string) bool {
	_, ok := r.peers[id]
	return ok
}

// Tick advances every entry to nowMs and returns the active peers sorted by
// id. tickIntervalMs scales the heading slew and the speed bound. Easing
// only moves the rendered marker; the logical position and heading are the
// report's until the peer starts fading.
func (r *Registry) Tick(nowMs, tickIntervalMs int64) []vehicle.PeerVehicle {
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	dt := math.Max(0, float64(tickIntervalMs)/1000)
	fadeMs := r.cfg.FadeStart.Milliseconds()
	removeMs := r.cfg.RemoveAfter.Milliseconds()

	out := make([]vehicle.PeerVehicle, 0, len(ids))
	for _, id := range ids {
		e := r.peers[id]
		age := nowMs - e.lastUpdateMs
		if age < 0 {
			age = 0
		}

		if age > removeMs {
			delete(r.peers, id)
			continue
		}

		pv := vehicle.PeerVehicle{
			ID:           id,
			Type:         e.report.Type,
			SpeedKmh:     e.report.SpeedKmh,
			Latitude:     e.report.Latitude,
			Longitude:    e.report.Longitude,
			HeadingDeg:   e.report.HeadingDeg,
			LastUpdateMs: e.lastUpdateMs,
			Weight:       1,
		}

		if age > fadeMs {
			r.fade(e, &pv, age, fadeMs, removeMs)
		} else {
			r.ease(e, age, dt)
		}

		pv.RenderedLatitude, pv.RenderedLongitude = e.rendered.Lat, e.rendered.Lng
		pv.RenderedHeadingDeg = e.renderedHeading
		pv.DisplaySpeedKmh = e.displaySpeedKmh
		out = append(out, pv)
	}
	return out
}

// ease moves the rendered marker of a recently reported peer toward the
// report.
func (r *Registry) ease(e *entry, age int64, dt float64) {
	// 1. Position: smooth-step from the pre-report position to the report.
	t := 1.0
	if d := r.cfg.EaseDuration.Milliseconds(); d > 0 {
		t = smoothstep(math.Min(1, float64(age)/float64(d)))
	}
	e.rendered = geo.Lerp(e.from, e.report.Point(), t)

	// 2. Heading: close a bounded fraction of the error along the short arc.
	k := math.Min(1, dt*r.cfg.HeadingSlewRate)
	e.renderedHeading = geo.NormalizeDegrees(
		e.renderedHeading + geo.SignedAngleDelta(e.renderedHeading, e.report.HeadingDeg)*k)

	// 3. Speed: bounded acceleration toward the reported speed.
	maxStep := r.cfg.MaxAccelMps2 * 3.6 * dt
	diff := e.report.SpeedKmh - e.displaySpeedKmh
	e.displaySpeedKmh += math.Max(-maxStep, math.Min(maxStep, diff))
}

// fade extrapolates a silent peer along its last heading with the speed
// decaying linearly to zero at RemoveAfter.
func (r *Registry) fade(e *entry, pv *vehicle.PeerVehicle, age, fadeMs, removeMs int64) {
	window := float64(removeMs-fadeMs) / 1000
	elapsed := float64(age-fadeMs) / 1000
	progress := 1.0
	if window > 0 {
		progress = math.Min(1, elapsed/window)
	}

	v := e.report.SpeedKmh / 3.6
	// distance covered under v·(1 − s/window) from fade start
	dist := v * (elapsed - elapsed*elapsed/(2*window))
	if window <= 0 {
		dist = 0
	}

	e.rendered = geo.Project(e.report.Point(), e.report.HeadingDeg, dist)
	e.renderedHeading = e.report.HeadingDeg
	e.displaySpeedKmh = e.report.SpeedKmh * (1 - progress)

	pv.Latitude, pv.Longitude = e.rendered.Lat, e.rendered.Lng
	pv.SpeedKmh = e.displaySpeedKmh
	pv.Weight = math.Max(0, 1-progress)
	pv.Fading = true
}

func smoothstep(t float64) float64 { return t * t * (3 - 2*t) }

// LastAlert returns when id last received an alert of the given tier. The
// time lives in the registry entry, not in the PeerVehicle snapshot, and
// survives re-reports until the peer is evicted.
func (r *Registry) LastAlert(id string, tier vehicle.AlertTier) (int64, bool) {
	e, ok := r.peers[id]
	if !ok {
		return 0, false
	}
	ts, ok := e.lastAlert[tier]
	return ts, ok
}

// MarkAlert records an alert of the given tier for id. Unknown ids are ignored.
func (r *Registry) MarkAlert(id string, tier vehicle.AlertTier, nowMs int64) {
	if e, ok := r.peers[id]; ok {
		e.lastAlert[tier] = nowMs
	}
}
