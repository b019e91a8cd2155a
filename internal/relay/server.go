package relay

import (
	"net/http"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/roadsense/internal/httputil"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// maxSendBody bounds a single /send body. Telemetry is well under 200 bytes.
const maxSendBody = 16 << 10

// ServerStats counts relay traffic.
type ServerStats struct {
	Sends    int64 `json:"sends"`
	Rejected int64 `json:"rejected"`
	Receives int64 `json:"receives"`
}

// Server exposes a Store over the relay protocol.
type Server struct {
	store Store

	sends    atomic.Int64
	rejected atomic.Int64
	receives atomic.Int64
}

// NewServer creates a Server backed by store.
func NewServer(store Store) *Server {
	return &Server{store: store}
}

// ServeMux returns the relay routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/receive", s.handleReceive)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteStatusOK(w)
	})
	return mux
}

// Stats returns the traffic counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Sends:    s.sends.Load(),
		Rejected: s.rejected.Load(),
		Receives: s.receives.Load(),
	}
}

// AttachAdminRoutes mounts the relay counters and a listing of active
// vehicles on the tsweb debugger.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("relay-stats", "Relay traffic counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})
	debug.HandleFunc("relay-vehicles", "Vehicles currently listed by the relay", func(w http.ResponseWriter, r *http.Request) {
		active, err := s.store.Active(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, active)
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var raw map[string]any
	if !httputil.DecodeJSONBody(w, r, maxSendBody, &raw) {
		s.rejected.Add(1)
		return
	}

	rep, err := vehicle.ParsePeerReport(raw)
	if err != nil {
		s.rejected.Add(1)
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.store.Put(r.Context(), rep.Telemetry()); err != nil {
		monitoring.Logf("relay: store %s: %v", rep.ID, err)
		httputil.InternalServerError(w, "store unavailable")
		return
	}
	s.sends.Add(1)
	httputil.WriteStatusOK(w)
}

// handleReceive answers with every active vehicle. An empty relay answers
// with an empty object, which deployed clients read as "nobody visible".
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	active, err := s.store.Active(r.Context())
	if err != nil {
		monitoring.Logf("relay: list vehicles: %v", err)
		httputil.InternalServerError(w, "store unavailable")
		return
	}
	s.receives.Add(1)
	if len(active) == 0 {
		httputil.WriteJSONOK(w, struct{}{})
		return
	}
	httputil.WriteJSONOK(w, active)
}
