// Package api provides the HTTP API for observing and steering the simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/talgya/commutersim/internal/config"
	"github.com/talgya/commutersim/internal/engine"
	"github.com/talgya/commutersim/internal/persistence"
)

// Server serves the simulation over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Clock    *engine.Clock   // Nil unless the server paces the simulation itself
	DB       *persistence.DB // Nil = run archive unavailable
	Hub      *Hub            // Nil = streaming disabled
	AdminKey string          // Bearer token for POST endpoints. Empty = POST disabled.
	Limiter  *RateLimiter    // Applied to POST endpoints; nil = default
	Log      *slog.Logger
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	if s.Limiter == nil {
		s.Limiter = NewRateLimiter(120, time.Minute)
	}

	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (GET, read-only).
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/locations", s.handleLocations)
		r.Get("/params", s.handleParams)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{runID}", s.handleRunHistory)
		r.Get("/stream", s.handleStream)

		// Admin endpoints (POST, require bearer token).
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Use(s.Limiter.Middleware)

			r.Post("/step", s.handleStep)
			r.Post("/run", s.handleRun)
			r.Post("/stop", s.handleStop)
			r.Post("/reset", s.handleReset)
			r.Post("/initialize", s.handleInitialize)
			r.Post("/params", s.handleSetParams)
			r.Post("/weather", s.handleWeather)
			r.Post("/roadworks", s.handleRoadworks)
			r.Post("/speed", s.handleSpeed)
		})
	})

	return r
}

// ListenAndServe serves on the given port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Log.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "", "stream", s.Hub != nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set COMMUTERSIM_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("COMMUTERSIM_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires the admin bearer token.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no COMMUTERSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Observation ─────────────────────────────────────────────────────

// StatusResponse is the body of GET /api/v1/status and of most admin replies.
type StatusResponse struct {
	engine.Status
	Params engine.Params `json:"params"`
	Setup  engine.Setup  `json:"setup"`
	Clock  *ClockStatus  `json:"clock,omitempty"`
}

// ClockStatus reports the autoplay clock.
type ClockStatus struct {
	Speed   float64 `json:"speed"`
	Running bool    `json:"running"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Status: s.Sim.Status(),
		Params: s.Sim.Params(),
		Setup:  s.Sim.Setup(),
	}
	if s.Clock != nil {
		resp.Clock = &ClockStatus{Speed: s.Clock.Speed(), Running: s.Clock.Running()}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	h := s.Sim.History()
	if r.URL.Query().Get("format") == "arrays" {
		writeJSON(w, h)
		return
	}
	writeJSON(w, map[string]any{
		"run_id": s.Sim.Status().RunID,
		"days":   h.Records(),
	})
}

// LocationView is one entry of GET /api/v1/locations.
type LocationView struct {
	Index     int     `json:"index"`
	Distance  float64 `json:"distance"`
	Residents int     `json:"residents"`
	IdealCars float64 `json:"ideal_cars"`
	Cars      int     `json:"cars"`
	Roadworks bool    `json:"roadworks"`          // Roadworks sit at this location
	Affected  bool    `json:"roadworks_affected"` // Commute passes through the roadworks
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	topo := s.Sim.Topology()
	pop := s.Sim.Population()
	tally := s.Sim.LastTally()
	cars := tally.CarsByLocation()
	env := s.Sim.Status().Environment

	out := make([]LocationView, 0, topo.Len())
	for _, loc := range topo.Locations {
		v := LocationView{
			Index:     loc.Index,
			Distance:  loc.Distance,
			Residents: pop.CountAt(loc.Index),
			Roadworks: env.Roadworks.Active && env.Roadworks.Location == loc.Index,
		}
		if env.Roadworks.Active && topo.InBounds(env.Roadworks.Location) {
			v.Affected = topo.Downstream(loc.Index, env.Roadworks.Location)
		}
		if loc.Index < len(cars) {
			v.IdealCars = tally.IdealCarsByLoc[loc.Index]
			v.Cars = cars[loc.Index]
		}
		out = append(out, v)
	}
	writeJSON(w, out)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Params())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	runs, err := s.DB.ListRuns(limit)
	if err != nil {
		s.Log.Error("list runs failed", "error", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	runID := chi.URLParam(r, "runID")
	days, err := s.DB.LoadHistory(runID)
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Log.Error("load history failed", "run_id", runID, "error", err)
		http.Error(w, "load history failed", http.StatusInternalServerError)
		return
	}
	if days == nil {
		days = []engine.DayRecord{}
	}
	writeJSON(w, map[string]any{"run_id": runID, "days": days})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	s.Hub.ServeWS(w, r, s.status())
}

// ── Control ─────────────────────────────────────────────────────────

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if !s.Sim.Step() {
		writeJSONStatus(w, http.StatusConflict, s.status())
		return
	}
	writeJSON(w, s.status())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.Sim.Finished() || s.Sim.Busy() {
		writeJSONStatus(w, http.StatusConflict, s.status())
		return
	}
	go s.Sim.Run()
	s.Log.Info("run mode requested")
	writeJSONStatus(w, http.StatusAccepted, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.Sim.Stop()
	writeJSON(w, s.status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.Sim.Busy() {
		http.Error(w, "step in progress; stop first", http.StatusConflict)
		return
	}
	s.Sim.Reset()
	writeJSON(w, s.status())
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if s.Sim.Busy() {
		http.Error(w, "step in progress; stop first", http.StatusConflict)
		return
	}

	// Fields left out of the body keep their current values.
	setup := s.Sim.Setup()
	if err := decodeBody(r, &setup); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := config.ValidateSetup(setup); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.Sim.Initialize(setup)
	s.Log.Info("simulation re-initialized via API",
		"residents", setup.ResidentsPerLocation,
		"car_probability", setup.CarProbability,
		"max_days", setup.MaxDays,
	)
	writeJSON(w, s.status())
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	p := s.Sim.Params()
	if err := decodeBody(r, &p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := config.ValidateParams(p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.Sim.SetParams(p)
	s.Log.Info("params changed", "weights", p.Weights, "congestion_window", p.CongestionWindow)
	writeJSON(w, p)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Auto *bool `json:"auto"`
		Rain *bool `json:"rain"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if req.Auto != nil {
		s.Sim.SetRainAuto(*req.Auto)
	}
	if req.Rain != nil {
		s.Sim.SetRain(*req.Rain)
	}
	writeJSON(w, s.Sim.Status().Environment.Weather)
}

func (s *Server) handleRoadworks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Auto     *bool `json:"auto"`
		Active   *bool `json:"active"`
		Location *int  `json:"location"` // Omitted = random location
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if req.Auto != nil {
		s.Sim.SetRoadworksAuto(*req.Auto)
	}
	if req.Active != nil {
		loc := -1
		if req.Location != nil {
			loc = *req.Location
		}
		if err := s.Sim.SetRoadworks(*req.Active, loc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	writeJSON(w, s.Sim.Status().Environment.Roadworks)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Clock == nil {
		http.Error(w, "autoplay not enabled", http.StatusConflict)
		return
	}

	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < 0 || req.Speed > 1000 {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	s.Clock.SetSpeed(req.Speed)
	s.Log.Info("speed changed", "speed", req.Speed)

	writeJSON(w, map[string]float64{"speed": s.Clock.Speed()})
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
