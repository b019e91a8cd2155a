package db

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// RecordSelfState stores one accepted self-state. A duplicate timestamp is
// ignored.
func (db *DB) RecordSelfState(s vehicle.SelfState) error {
	var heading sql.NullFloat64
	if s.HeadingDeg != nil {
		heading = sql.NullFloat64{Float64: *s.HeadingDeg, Valid: true}
	}
	_, err := db.Exec(
		`INSERT OR IGNORE INTO self_states (timestamp_ms, latitude, longitude, speed_kmh, heading_deg)
		VALUES (?, ?, ?, ?, ?)`,
		s.TimestampMs, s.Latitude, s.Longitude, s.SpeedKmh, heading,
	)
	if err != nil {
		return fmt.Errorf("failed to record self state: %w", err)
	}
	return nil
}

// SelfStates returns the self-states in [fromMs, toMs] ordered by time.
// limit <= 0 means no limit.
func (db *DB) SelfStates(fromMs, toMs int64, limit int) ([]vehicle.SelfState, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT timestamp_ms, latitude, longitude, speed_kmh, heading_deg
		FROM self_states WHERE timestamp_ms BETWEEN ? AND ?
		ORDER BY timestamp_ms LIMIT ?`, fromMs, toMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vehicle.SelfState
	for rows.Next() {
		var (
			s       vehicle.SelfState
			heading sql.NullFloat64
		)
		if err := rows.Scan(&s.TimestampMs, &s.Latitude, &s.Longitude, &s.SpeedKmh, &heading); err != nil {
			return nil, err
		}
		if heading.Valid {
			h := heading.Float64
			s.HeadingDeg = &h
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordAlert stores one emitted alert.
func (db *DB) RecordAlert(a vehicle.Alert) error {
	_, err := db.Exec(
		`INSERT INTO alerts (timestamp_ms, class, subject_id, message) VALUES (?, ?, ?, ?)`,
		a.TimestampMs, string(a.Class), a.SubjectID, a.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// Alerts returns the most recent alerts, newest first.
func (db *DB) Alerts(limit int) ([]vehicle.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT timestamp_ms, class, subject_id, message FROM alerts
		ORDER BY timestamp_ms DESC, alert_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vehicle.Alert
	for rows.Next() {
		var (
			a     vehicle.Alert
			class string
		)
		if err := rows.Scan(&a.TimestampMs, &class, &a.SubjectID, &a.Message); err != nil {
			return nil, err
		}
		a.Class = vehicle.HazardClass(class)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AlertCounts returns the number of journaled alerts per class.
func (db *DB) AlertCounts() (map[vehicle.HazardClass]int, error) {
	rows, err := db.Query(`SELECT class, COUNT(*) FROM alerts GROUP BY class`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[vehicle.HazardClass]int)
	for rows.Next() {
		var (
			class string
			n     int
		)
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		out[vehicle.HazardClass(class)] = n
	}
	return out, rows.Err()
}

// PeerSighting is one sampled observation of a peer.
type PeerSighting struct {
	TimestampMs int64               `json:"timestamp_ms"`
	Peer        vehicle.PeerVehicle `json:"peer"`
	DistanceM   *float64            `json:"distance_m,omitempty"`
}

// RecordPeerSightings stores the active peers seen at nowMs in a single
// transaction. When self is known the distance to each peer is stored too.
func (db *DB) RecordPeerSightings(nowMs int64, self *vehicle.SelfState, peers []vehicle.PeerVehicle) error {
	if len(peers) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO peer_sightings (timestamp_ms, peer_id, vehicle_type, latitude, longitude,
			speed_kmh, heading_deg, distance_m, weight, fading)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range peers {
		var dist sql.NullFloat64
		if self != nil {
			dist = sql.NullFloat64{Float64: geo.DistanceMeters(self.Point(), p.Point()), Valid: true}
		}
		if _, err := stmt.Exec(nowMs, p.ID, p.Type.String(), p.Latitude, p.Longitude,
			p.SpeedKmh, p.HeadingDeg, dist, p.Weight, p.Fading); err != nil {
			return fmt.Errorf("failed to record sighting of %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// PeerSightings returns the sightings of one peer ordered by time.
func (db *DB) PeerSightings(peerID string) ([]PeerSighting, error) {
	rows, err := db.Query(
		`SELECT timestamp_ms, vehicle_type, latitude, longitude, speed_kmh, heading_deg,
			distance_m, weight, fading
		FROM peer_sightings WHERE peer_id = ? ORDER BY timestamp_ms`, peerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeerSighting
	for rows.Next() {
		var (
			s    PeerSighting
			vt   string
			dist sql.NullFloat64
		)
		s.Peer.ID = peerID
		if err := rows.Scan(&s.TimestampMs, &vt, &s.Peer.Latitude, &s.Peer.Longitude,
			&s.Peer.SpeedKmh, &s.Peer.HeadingDeg, &dist, &s.Peer.Weight, &s.Peer.Fading); err != nil {
			return nil, err
		}
		if t, err := vehicle.ParseVehicleType(vt); err == nil {
			s.Peer.Type = t
		}
		if dist.Valid {
			d := dist.Float64
			s.DistanceM = &d
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Journal adapts the database to the engine's outputs: it is an alert sink
// and a tick observer. Self-states are written once per timestamp; peer
// sightings at most once per SightingIntervalMs.
type Journal struct {
	db                 *DB
	SightingIntervalMs int64

	mu          sync.Mutex
	lastSelfMs  int64
	lastSightMs int64
	sightedOnce bool
}

// NewJournal creates a journal sampling sightings every sightingIntervalMs.
func NewJournal(db *DB, sightingIntervalMs int64) *Journal {
	return &Journal{db: db, SightingIntervalMs: sightingIntervalMs}
}

// Emit records an alert. Failures are logged; the engine never blocks on
// the journal.
func (j *Journal) Emit(a vehicle.Alert) {
	if err := j.db.RecordAlert(a); err != nil {
		monitoring.Logf("journal: %v", err)
	}
}

// Observe records the tick's self-state and samples its peers.
func (j *Journal) Observe(nowMs int64, self *vehicle.SelfState, peers []vehicle.PeerVehicle) {
	j.mu.Lock()
	writeSelf := self != nil && self.TimestampMs != j.lastSelfMs
	if writeSelf {
		j.lastSelfMs = self.TimestampMs
	}
	writePeers := len(peers) > 0 && (!j.sightedOnce || nowMs-j.lastSightMs >= j.SightingIntervalMs)
	if writePeers {
		j.lastSightMs, j.sightedOnce = nowMs, true
	}
	j.mu.Unlock()

	if writeSelf {
		if err := j.db.RecordSelfState(*self); err != nil {
			monitoring.Logf("journal: %v", err)
		}
	}
	if writePeers {
		if err := j.db.RecordPeerSightings(nowMs, self, peers); err != nil {
			monitoring.Logf("journal: %v", err)
		}
	}
}
