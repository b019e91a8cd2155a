// Package api serves the engine's state to the rendering collaborator: JSON
// snapshots, the self path, a websocket stream and debug charts.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/roadsense/internal/db"
	"github.com/banshee-data/roadsense/internal/engine"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/serialmux"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes caps ingest request bodies.
const maxBodyBytes = 1 << 20

type Server struct {
	engine  *engine.Engine
	journal *db.DB
	gnss    *serialmux.FixHandler
	hub     *Hub
}

// NewServer creates a Server. journal, gnss and hub may be nil; the routes
// depending on them then answer 404.
func NewServer(e *engine.Engine, journal *db.DB, gnss *serialmux.FixHandler, hub *Hub) *Server {
	return &Server{
		engine:  e,
		journal: journal,
		gnss:    gnss,
		hub:     hub,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the hijacker for websockets.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration. The websocket
// route is passed through untouched as it needs the raw writer.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/path", s.showPath)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/telemetry", s.showTelemetry)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/fix", s.ingestFix)
	mux.HandleFunc("/api/peers", s.ingestPeers)
	mux.HandleFunc("/api/reset", s.resetSelf)
	mux.HandleFunc("/ws", s.stream)
	mux.HandleFunc("/charts/speed", s.speedChart)
	mux.HandleFunc("/charts/alerts", s.alertChart)
	return mux
}
