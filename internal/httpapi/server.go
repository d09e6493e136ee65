// Package httpapi exposes a read-only projection of the store over
// gorilla/mux: snapshot history, backtest reports, health, and
// Prometheus metrics (spec §6.3's read surface). It never computes
// anything the core doesn't already own.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wisdomnet/crowdwisdom/internal/store"
)

var (
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crowdwisdom",
		Subsystem: "httpapi",
		Name:      "request_duration_seconds",
		Help:      "Read-API request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(requestDuration)
}

// Server is the read-only HTTP API over a store.Reader-compatible
// store.Store.
type Server struct {
	st  store.Store
	log zerolog.Logger
}

// New builds a Server backed by st.
func New(st store.Store, log zerolog.Logger) *Server {
	return &Server{st: st, log: log}
}

// Router builds the gorilla/mux router for this server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}/snapshots/latest", s.handleLatestSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}/snapshots", s.handleListSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/backtests/{run_id}", s.handleBacktestReport).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if m, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
			route = m
		}
		requestDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	market := mux.Vars(r)["id"]
	snap, err := s.st.LatestSnapshot(r.Context(), market)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot for market " + market})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	market := mux.Vars(r)["id"]
	tFrom, err := parseOptionalTime(r.URL.Query().Get("from"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tTo, err := parseOptionalTime(r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	snaps, err := s.st.ListSnapshots(r.Context(), market, tFrom, tTo)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleBacktestReport(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	report, err := s.st.GetBacktestReport(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no backtest report for run " + runID})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Error().Err(err).Int("status", status).Msg("httpapi request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
