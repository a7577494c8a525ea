// Package api provides the HTTP API for observing and steering the
// simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token and are rate limited; accepted
// changes are queued onto the tick goroutine.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/talgya/policysim/internal/engine"
	"github.com/talgya/policysim/internal/observability"
	"github.com/talgya/policysim/internal/persistence"
	"github.com/talgya/policysim/internal/presets"
)

// Server serves controller snapshots over HTTP.
type Server struct {
	Eng      *engine.Engine
	Catalog  *presets.Catalog
	DB       *persistence.DB          // Optional; remembers the active preset
	Metrics  *observability.Collector // Optional; enables /metrics
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string

	// ControlLimiter bounds POST requests per client. Nil = 60 per minute.
	ControlLimiter *RateLimiter
}

// Handler builds the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	limiter := s.ControlLimiter
	if limiter == nil {
		limiter = NewRateLimiter(60, time.Minute)
	}
	control := func(h http.HandlerFunc) http.HandlerFunc {
		return s.adminOnly(RateLimitMiddleware(limiter, h))
	}

	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, s.Metrics.Middleware(name, h))
	}

	// Public endpoints.
	route("GET /api/v1/status", "status", s.handleStatus)
	route("GET /api/v1/histogram", "histogram", s.handleHistogram)
	route("GET /api/v1/edges", "edges", s.handleEdges)
	route("GET /api/v1/presets", "presets", s.handlePresets)

	// Admin endpoints.
	route("POST /api/v1/preset", "preset", control(s.handlePreset))
	route("POST /api/v1/volatility", "volatility", control(s.handleVolatility))
	route("POST /api/v1/funding", "funding", control(s.handleFunding))
	route("POST /api/v1/speed", "speed", control(s.handleSpeed))

	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	return corsMiddleware(s.CORSOrigins, mux)
}

// Serve runs the HTTP API until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "metrics", s.Metrics != nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowedOrigins[origin] = true
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

func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no POLICYSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) snapshot(w http.ResponseWriter) *engine.Snapshot {
	snap := s.Eng.Controller().Snapshot()
	if snap == nil {
		http.Error(w, "no statistics published yet", http.StatusServiceUnavailable)
	}
	return snap
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	writeJSON(w, map[string]any{
		"summary":    snap.Line(),
		"epoch":      snap.Epoch,
		"preset":     snap.Preset,
		"total_sims": snap.TotalSims,
		"samples":    snap.Samples,
		"skipped":    snap.Skipped,
		"params":     snap.Params,
		"funding":    snap.Funding,
		"speed":      s.Eng.Speed(),
		"ticks":      s.Eng.Ticks(),
		"updated_at": snap.UpdatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	writeJSON(w, map[string]any{
		"epoch":              snap.Epoch,
		"bins":               snap.Histogram,
		"counts":             snap.Counts,
		"xMin":               snap.XMin,
		"xMax":               snap.XMax,
		"mean":               snap.Mean,
		"meanA":              snap.MeanA,
		"meanB":              snap.MeanB,
		"bimodal":            snap.Bimodal,
		"p10":                snap.P10,
		"p90":                snap.P90,
		"successProbability": snap.SuccessProbability,
		"samples":            snap.Samples,
	})
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	writeJSON(w, map[string]any{
		"epoch":  snap.Epoch,
		"preset": snap.Preset,
		"edges":  snap.Edges,
		"matrix": snap.Matrix,
	})
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	type presetSummary struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Domains     int    `json:"domains"`
		Years       int    `json:"years"`
		Active      bool   `json:"active"`
	}

	active := ""
	if snap := s.Eng.Controller().Snapshot(); snap != nil {
		active = snap.Preset
	}
	all := s.Catalog.All()
	out := make([]presetSummary, 0, len(all))
	for _, sc := range all {
		out = append(out, presetSummary{
			Name:        sc.Name,
			Description: sc.Description,
			Domains:     sc.Size(),
			Years:       sc.Params.Years,
			Active:      sc.Name == active,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	sc, ok := s.Catalog.Lookup(req.Name)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown preset %q", req.Name), http.StatusNotFound)
		return
	}
	if !s.enqueue(w, func(c *engine.Controller) { c.SetScenario(sc) }) {
		return
	}
	if s.DB != nil {
		if err := s.DB.SaveMeta(persistence.MetaDefaultPreset, sc.Name); err != nil {
			slog.Warn("failed to remember active preset", "preset", sc.Name, "error", err)
		}
	}
	slog.Info("preset change queued", "preset", sc.Name)
	writeAccepted(w, map[string]any{"preset": sc.Name})
}

func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volatility *float64 `json:"volatility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volatility == nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	v := *req.Volatility
	if v < 0 || v > 10 {
		http.Error(w, "volatility must be 0-10", http.StatusBadRequest)
		return
	}
	if !s.enqueue(w, func(c *engine.Controller) { c.SetVolatility(v) }) {
		return
	}
	slog.Info("volatility change queued", "volatility", v)
	writeAccepted(w, map[string]any{"volatility": v})
}

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain *int      `json:"domain"`
		Value  float64   `json:"value"`
		Vector []float64 `json:"vector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var cmd engine.Command
	switch {
	case req.Vector != nil:
		vec := append([]float64(nil), req.Vector...)
		cmd = func(c *engine.Controller) { c.SetFundingVector(vec) }
	case req.Domain != nil:
		domain, value := *req.Domain, req.Value
		if snap := s.Eng.Controller().Snapshot(); snap != nil && (domain < 0 || domain >= len(snap.Funding)) {
			http.Error(w, fmt.Sprintf("domain %d out of range", domain), http.StatusBadRequest)
			return
		}
		cmd = func(c *engine.Controller) { c.SetFunding(domain, value) }
	default:
		http.Error(w, "expected domain+value or vector", http.StatusBadRequest)
		return
	}
	if !s.enqueue(w, cmd) {
		return
	}
	writeAccepted(w, map[string]any{"queued": true})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < 0 || req.Speed > 1000 || math.IsNaN(req.Speed) {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	s.Eng.SetSpeed(req.Speed)
	slog.Info("speed changed", "speed", req.Speed)
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) enqueue(w http.ResponseWriter, cmd engine.Command) bool {
	if err := s.Eng.Enqueue(cmd); err != nil {
		slog.Warn("control command rejected", "error", err)
		http.Error(w, "engine busy, retry shortly", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeAccepted(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
