package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/roadsense/internal/api"
	"github.com/banshee-data/roadsense/internal/config"
	"github.com/banshee-data/roadsense/internal/db"
	"github.com/banshee-data/roadsense/internal/engine"
	"github.com/banshee-data/roadsense/internal/gnss"
	"github.com/banshee-data/roadsense/internal/httputil"
	"github.com/banshee-data/roadsense/internal/peerlink"
	"github.com/banshee-data/roadsense/internal/relay"
	"github.com/banshee-data/roadsense/internal/serialmux"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
	"github.com/banshee-data/roadsense/internal/version"
)

func versionString() string {
	return version.String("roadsense")
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// resolveIdentity picks a random id when none is configured. Ids are not
// persisted; a restart appears to peers as a new vehicle.
func resolveIdentity(id, typ string) (string, vehicle.VehicleType, error) {
	vt, err := vehicle.ParseVehicleType(strings.ToLower(strings.TrimSpace(typ)))
	if err != nil {
		return "", vt, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	return id, vt, nil
}

func openGNSS(disabled, dev bool, port string, baud int, framing string, clock timeutil.Clock) (serialmux.SerialMuxInterface, error) {
	switch {
	case disabled:
		return serialmux.NewDisabledSerialMux(), nil
	case dev:
		return serialmux.NewReplaySerialMux(gnss.SampleDrive(), clock, time.Second, true), nil
	}
	opts, err := serialmux.PortOptions{BaudRate: baud}.ParseFraming(framing)
	if err != nil {
		return nil, err
	}
	return serialmux.NewRealSerialMux(port, opts)
}

// newRunner sends alerts to the log, the websocket hub and the journal, and
// hands every tick to the hub and journal.
func newRunner(e *engine.Engine, clock timeutil.Clock, interval time.Duration, hub *api.Hub, journal *db.Journal) *engine.Runner {
	sinks := []engine.AlertSink{engine.LogSink{}, hub}
	if journal != nil {
		sinks = append(sinks, journal)
	}
	r := engine.NewRunner(e, clock, interval, sinks...)
	r.Observe(hub.ObserveTick)
	if journal != nil {
		r.Observe(func(res engine.TickResult) {
			journal.Observe(res.NowMs, res.Self, res.ActivePeers)
		})
	}
	return r
}

// peerLinks holds whichever transports were configured.
type peerLinks struct {
	relay       *relay.Client
	conn        peerlink.UDPSocket
	listener    *peerlink.Listener
	broadcaster *peerlink.Broadcaster
	capture     *os.File
	recorder    *peerlink.Recorder
}

func openPeerLinks(relayAddr, udpListen, udpBroadcast, udpRecord string, clock timeutil.Clock) (*peerLinks, error) {
	l := &peerLinks{}
	if relayAddr != "" {
		l.relay = relay.NewClient(relayAddr, nil)
	}
	if udpListen == "" && udpBroadcast == "" {
		if udpRecord != "" {
			return nil, errors.New("-udp-record needs -udp-listen")
		}
		return l, nil
	}

	addr := udpListen
	if addr == "" {
		addr = ":0" // send-only
	}
	conn, err := peerlink.ListenUDP(addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	l.conn = conn

	if udpBroadcast != "" {
		if l.broadcaster, err = peerlink.NewBroadcaster(conn, udpBroadcast); err != nil {
			l.Close()
			return nil, err
		}
	}
	if udpListen != "" {
		if udpRecord != "" {
			if err := l.openCapture(udpRecord, conn.LocalAddr()); err != nil {
				l.Close()
				return nil, err
			}
		}
		l.listener = peerlink.NewListener(conn, clock, l.recorder)
	}
	return l, nil
}

func (l *peerLinks) openCapture(path string, local net.Addr) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create capture: %w", err)
	}
	port := peerlink.DefaultPort
	if ua, ok := local.(*net.UDPAddr); ok && ua.Port > 0 {
		port = ua.Port
	}
	rec, err := peerlink.NewRecorder(f, port)
	if err != nil {
		f.Close()
		return err
	}
	l.capture, l.recorder = f, rec
	return nil
}

func (l *peerLinks) publishers() []engine.TelemetryPublisher {
	var out []engine.TelemetryPublisher
	if l.relay != nil {
		out = append(out, l.relay)
	}
	if l.broadcaster != nil {
		out = append(out, l.broadcaster)
	}
	return out
}

func (l *peerLinks) sources() engine.MultiSource {
	var out engine.MultiSource
	if l.relay != nil {
		out = append(out, l.relay)
	}
	if l.listener != nil {
		out = append(out, l.listener)
	}
	return out
}

// start launches the publish, poll and listen loops.
func (l *peerLinks) start(ctx context.Context, wg *sync.WaitGroup, e *engine.Engine, clock timeutil.Clock, sendEvery, pollEvery time.Duration) {
	for _, pub := range l.publishers() {
		wg.Add(1)
		go func(pub engine.TelemetryPublisher) {
			defer wg.Done()
			_ = engine.RunTelemetry(ctx, e, clock, sendEvery, pub)
		}(pub)
	}

	if l.listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("peer listener stopped: %v", err)
			}
		}()
	}

	if src := l.sources(); len(src) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.RunPeerPoll(ctx, e, clock, pollEvery, src)
			log.Print("peer poll routine terminated")
		}()
	} else {
		log.Print("no peer link configured; peers arrive only via /api/peers")
	}
}

type linkStatus struct {
	Relay      string          `json:"relay,omitempty"`
	Listener   *peerlink.Stats `json:"listener,omitempty"`
	Broadcasts *int64          `json:"broadcasts,omitempty"`
	Captured   *int64          `json:"captured,omitempty"`
	LocalUDP   string          `json:"local_udp,omitempty"`
}

func (l *peerLinks) status() linkStatus {
	var st linkStatus
	if l.relay != nil {
		st.Relay = l.relay.BaseURL()
	}
	if l.listener != nil {
		s := l.listener.Stats()
		st.Listener = &s
	}
	if l.broadcaster != nil {
		n := l.broadcaster.Sent()
		st.Broadcasts = &n
	}
	if l.recorder != nil {
		n := l.recorder.Count()
		st.Captured = &n
	}
	if l.conn != nil {
		st.LocalUDP = l.conn.LocalAddr().String()
	}
	return st
}

func (l *peerLinks) attachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("peerlinks", "Peer transport status", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, l.status())
	})
}

func (l *peerLinks) Close() {
	if l.conn != nil {
		_ = l.conn.Close()
	}
	if l.capture != nil {
		_ = l.capture.Close()
	}
}
