package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/banshee-data/roadsense/internal/engine"
	"github.com/banshee-data/roadsense/internal/geo"
	"github.com/banshee-data/roadsense/internal/httputil"
	"github.com/banshee-data/roadsense/internal/serialmux"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// peerView decorates a peer with what the map layer shows next to it.
type peerView struct {
	vehicle.PeerVehicle
	DistanceM *float64 `json:"distance_m,omitempty"`
	LastSeen  string   `json:"last_seen,omitempty"`
}

type stateView struct {
	NowMs  int64              `json:"now_ms"`
	Self   *vehicle.SelfState `json:"self,omitempty"`
	Peers  []peerView         `json:"peers"`
	Alerts []vehicle.Alert    `json:"alerts,omitempty"`
}

func newStateView(res engine.TickResult) stateView {
	v := stateView{NowMs: res.NowMs, Self: res.Self, Alerts: res.Alerts, Peers: make([]peerView, 0, len(res.ActivePeers))}
	for _, p := range res.ActivePeers {
		pv := peerView{PeerVehicle: p}
		if res.Self != nil {
			d := geo.DistanceMeters(res.Self.Point(), p.Point())
			pv.DistanceM = &d
		}
		if p.Fading {
			pv.LastSeen = fmt.Sprintf("Last seen %ds ago", p.LastSeenSeconds(res.NowMs))
		}
		v.Peers = append(v.Peers, pv)
	}
	return v
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, newStateView(s.engine.Snapshot()))
}

// showPath returns the retained self positions as [lat, lng] pairs.
func (s *Server) showPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	path := s.engine.Path()
	out := make([][2]float64, 0, len(path))
	for _, p := range path {
		out = append(out, [2]float64{p.Lat, p.Lng})
	}
	httputil.WriteJSONOK(w, out)
}

type statsView struct {
	Engine  engine.Stats                `json:"engine"`
	GNSS    *serialmux.HandlerStats     `json:"gnss,omitempty"`
	Alerts  map[vehicle.HazardClass]int `json:"journal_alerts,omitempty"`
	Clients int                         `json:"stream_clients"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	v := statsView{Engine: s.engine.Stats()}
	if s.gnss != nil {
		st := s.gnss.Stats()
		v.GNSS = &st
	}
	if s.journal != nil {
		counts, err := s.journal.AlertCounts()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to count alerts: %v", err))
			return
		}
		v.Alerts = counts
	}
	if s.hub != nil {
		v.Clients = s.hub.Clients()
	}
	httputil.WriteJSONOK(w, v)
}

func (s *Server) showTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	t, ok := s.engine.Telemetry()
	if !ok {
		httputil.NotFound(w, "no position yet")
		return
	}
	httputil.WriteJSONOK(w, t)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.NotFound(w, "journal disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 10000 {
			httputil.BadRequest(w, "limit must be between 1 and 10000")
			return
		}
		limit = n
	}
	alerts, err := s.journal.Alerts(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list alerts: %v", err))
		return
	}
	if alerts == nil {
		alerts = []vehicle.Alert{}
	}
	httputil.WriteJSONOK(w, alerts)
}

// ingestFix accepts a PositionFix from a location collaborator that is not
// a serial receiver.
func (s *Server) ingestFix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var fix vehicle.PositionFix
	if !httputil.DecodeJSONBody(w, r, maxBodyBytes, &fix) {
		return
	}
	state, err := s.engine.IngestSelfFix(fix)
	switch {
	case errors.Is(err, vehicle.ErrInvalidFix):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, vehicle.ErrStaleFix):
		httputil.Conflict(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, state)
	}
}

// ingestPeers accepts a relay payload: one telemetry object or an array.
func (s *Server) ingestPeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	if err := s.engine.IngestPeerPayload(body); err != nil {
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"warning": err.Error()})
		return
	}
	httputil.WriteStatusOK(w)
}

func (s *Server) resetSelf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.engine.ResetSelf()
	httputil.WriteStatusOK(w)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		httputil.NotFound(w, "stream disabled")
		return
	}
	initial := Update{Type: "tick", Data: newStateView(s.engine.Snapshot())}
	s.hub.serve(w, r, &initial)
}
