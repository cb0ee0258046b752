package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clubotel-scraper/daterange"
	"clubotel-scraper/scheduler"
	"clubotel-scraper/table"
)

// Server exposes the price table and refresh controls over HTTP
type Server struct {
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates a Server and registers its routes
func New(s *scheduler.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		scheduler: s,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	srv.mux.HandleFunc("GET /lowest_two_prices_json", srv.handlePricesJSON)
	srv.mux.HandleFunc("GET /lowest_two_prices", srv.handlePricesCSV)
	srv.mux.HandleFunc("GET /progress", srv.handleProgress)
	srv.mux.HandleFunc("POST /refresh", srv.handleRefresh)
	srv.mux.HandleFunc("GET /healthz", srv.handleHealth)
	return srv
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	// The browser front-end is served from another origin
	w.Header().Set("Access-Control-Allow-Origin", "*")
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("HTTP request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start).Round(time.Millisecond))
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handlePricesJSON(w http.ResponseWriter, r *http.Request) {
	rows, status, err := s.rows(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePricesCSV(w http.ResponseWriter, r *http.Request) {
	rows, status, err := s.rows(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="lowest_two_prices_per_file.csv"`)
	if err := table.WriteCSV(w, rows); err != nil {
		s.logger.Error("Error writing CSV", "error", err)
	}
}

// rows optionally refreshes, then projects and sorts the cache
func (s *Server) rows(r *http.Request) ([]table.Row, int, error) {
	q := r.URL.Query()

	if truthy(q.Get("refresh")) {
		req, err := parseRequest(r)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		_, err = s.scheduler.Refresh(r.Context(), req)
		switch {
		case errors.Is(err, scheduler.ErrRefreshInProgress):
			// Serve what we have while the other run finishes
		case err != nil:
			s.logger.Error("Refresh failed", "error", err)
			return nil, http.StatusInternalServerError, err
		}
	}

	key, err := table.ParseSortKey(q.Get("sort"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	rows := table.Project(s.scheduler.Store().Snapshot())
	table.Sort(rows, key, truthy(q.Get("desc")))
	return rows, http.StatusOK, nil
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Tracker().Snapshot())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.scheduler.RefreshAsync(req); err != nil {
		if errors.Is(err, scheduler.ErrRefreshInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// parseRequest reads start, end, policy, fast and force from the query string
func parseRequest(r *http.Request) (scheduler.Request, error) {
	q := r.URL.Query()
	var req scheduler.Request

	if v := q.Get("start"); v != "" {
		d, err := daterange.ParseDate(v)
		if err != nil {
			return req, err
		}
		req.Start = d
	}
	if v := q.Get("end"); v != "" {
		d, err := daterange.ParseDate(v)
		if err != nil {
			return req, err
		}
		req.End = d
	}
	if v := q.Get("policy"); v != "" {
		p, err := daterange.ParsePolicy(v)
		if err != nil {
			return req, err
		}
		req.Policy = p
	}
	req.Fast = truthy(q.Get("fast"))
	req.Force = truthy(q.Get("force"))
	return req, nil
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Error encoding JSON response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
