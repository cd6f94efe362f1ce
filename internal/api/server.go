// Package api serves the JSON query endpoints and the live-reading
// websocket feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/wattscope/wattscope/internal/analytics"
	"github.com/wattscope/wattscope/internal/ingest"
	"github.com/wattscope/wattscope/internal/store"
	"github.com/wattscope/wattscope/internal/version"
)

// Server exposes the analytics queries, the message log, and the
// websocket feed over HTTP.
type Server struct {
	router    chi.Router
	analytics *analytics.Service
	store     *store.Store
	msglog    *ingest.MessageLog
	hub       *Hub
	addr      string
	server    *http.Server
}

// NewServer wires the HTTP layer. The returned server owns the
// websocket hub; feed it stored readings via Hub().
func NewServer(svc *analytics.Service, st *store.Store, msglog *ingest.MessageLog, addr string) *Server {
	s := &Server{
		analytics: svc,
		store:     st,
		msglog:    msglog,
		hub:       NewHub(),
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	r.Get("/api/current", s.handleCurrent)
	r.Get("/api/history", s.handleHistory)
	r.Get("/api/averages", s.handleAverages)
	r.Get("/api/weekdays", s.handleWeekdays)
	r.Get("/api/records", s.handleRecords)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/export", s.handleExport)
	r.Get("/api/devices", s.handleDevices)
	r.Get("/api/log", s.handleLog)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleVersion)

	r.Get("/ws", s.hub.handleWS)

	s.router = r
	return s
}

// Hub returns the websocket hub for broadcasting stored readings.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (s *Server) Start(readTimeout, writeTimeout, idleTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	log.Info().Str("addr", s.addr).Msg("api server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	reading, err := s.analytics.Current(r.URL.Query().Get("device"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id":   reading.DeviceID,
		"observed_at": reading.ObservedAt,
		"total_in":    reading.TotalIn,
		"total_out":   nullable(reading.TotalOut.Valid, reading.TotalOut.Float64),
		"power_w":     nullable(reading.PowerW.Valid, reading.PowerW.Float64),
		"voltage":     nullable(reading.Voltage.Valid, reading.Voltage.Float64),
		"received_at": reading.ReceivedAt,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rng := r.URL.Query().Get("range")
	if rng == "" {
		rng = "24h"
	}
	h, err := s.analytics.History(r.URL.Query().Get("device"), rng)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if h.Points == nil {
		h.Points = []analytics.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleAverages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.analytics.Averages(q.Get("device"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if rows == nil {
		rows = []*store.HourOfDayRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleWeekdays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.analytics.WeekdayAverages(q.Get("device"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if rows == nil {
		rows = []*store.WeekdayRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	rec, err := s.analytics.TopBottom(r.URL.Query().Get("device"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analytics.Stats(r.URL.Query().Get("device"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	csvText, err := s.analytics.ExportCSV(q.Get("device"), q.Get("start"), q.Get("end"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="averages.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(csvText)); err != nil {
		log.Error().Err(err).Msg("failed to write CSV response")
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.store.KnownDevices()
	if err != nil {
		log.Error().Err(err).Msg("failed to list devices")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}
	if devices == nil {
		devices = []string{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleLog returns recent message outcomes, most recent first.
// Accepts ?limit=N (default all buffered entries).
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	entries := s.msglog.Snapshot()
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "database unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": version.Version,
		"commit":  version.GitCommit,
		"built":   version.BuildDate,
	})
}

// --- helpers ---

// writeQueryError maps analytics sentinels to HTTP statuses.
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analytics.ErrNoData):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no data for device"})
	case errors.Is(err, analytics.ErrBadRange):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("analytics query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

func nullable(valid bool, v float64) interface{} {
	if !valid {
		return nil
	}
	return v
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

// corsMiddleware adds permissive CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
