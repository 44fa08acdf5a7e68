// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation); /stream pushes matches
// over a WebSocket.
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/talgya/tradecycle/internal/engine"
	"github.com/talgya/tradecycle/internal/market"
)

const (
	defaultMatchLimit = 50
	maxMatchLimit     = 512
	maxSpeed          = 1000
)

// Server serves the simulation state over HTTP.
type Server struct {
	Sim         *engine.Simulation
	Eng         *engine.Engine
	Port        int
	AdminKey    string   // Bearer token for POST endpoints. Empty = POST disabled.
	CORSOrigins []string // Allowed browser origins

	// RequestsPerMinute caps public GETs per client IP. 0 uses 120.
	RequestsPerMinute int

	limiter *RateLimiter
	hub     *Hub
	srv     *http.Server
}

// Handler builds the router with its middleware stack.
func (s *Server) Handler() http.Handler {
	rpm := s.RequestsPerMinute
	if rpm <= 0 {
		rpm = 120
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(rpm, time.Minute)
	}
	if s.hub == nil {
		s.hub = NewHub(s.CORSOrigins)
		s.Sim.OnMatch = s.hub.Publish
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (GET, read-only).
		r.Group(func(r chi.Router) {
			r.Use(Limit(s.limiter))
			r.Get("/stream", s.hub.ServeWS)
		})

		r.Group(func(r chi.Router) {
			r.Use(Limit(s.limiter))
			r.Use(middleware.Timeout(5 * time.Second))
			r.Get("/status", s.handleStatus)
			r.Get("/markets", s.handleMarkets)
			r.Get("/markets/{commodity}", s.handleMarketDetail)
			r.Get("/matches", s.handleMatches)
			r.Get("/agents", s.handleAgents)
			r.Get("/speed", s.handleGetSpeed)
		})

		// Admin endpoints (POST, require bearer token).
		r.With(middleware.Timeout(5*time.Second), s.adminOnly).Post("/speed", s.handleSetSpeed)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Start begins serving the HTTP API in a goroutine. The server shuts down
// when ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "cors_origins", len(s.CORSOrigins))

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "error", err)
		}
		s.limiter.Close()
		s.hub.Close()
	}()
}

// logRequests logs each request at debug level once it completes.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly requires the admin bearer token.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeProblem(w, r, http.StatusForbidden, "admin_disabled", "admin endpoints disabled (no TRADESIM_ADMIN_KEY set)")
			return
		}
		if !s.checkBearerToken(r) {
			writeProblem(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Sim.Stats()
	status := map[string]any{
		"sim_id":           s.Sim.ID.String(),
		"step":             st.Step,
		"next_step":        s.Eng.Tick(),
		"end_step":         s.Eng.End(),
		"sim_time":         engine.SimTime(max(st.Step, 0)),
		"speed":            s.Eng.Speed(),
		"running":          s.Eng.Running(),
		"agents":           st.Agents,
		"tickers":          st.Tickers,
		"markets":          st.Markets,
		"matches":          st.Matches,
		"matched":          st.Matched,
		"deliveries":       st.Deliveries,
		"rejections":       st.Rejections,
		"resolve_failures": st.Failures,
		"flush_errors":     st.FlushErrors,
		"stream_clients":   s.hub.Clients(),
	}
	writeJSON(w, status)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	stats := s.Sim.MarketStats()
	if stats == nil {
		stats = []market.Stats{}
	}
	writeJSON(w, stats)
}

func (s *Server) handleMarketDetail(w http.ResponseWriter, r *http.Request) {
	commodity := chi.URLParam(r, "commodity")
	e, err := s.Sim.Markets.Engine(commodity)
	if errors.Is(err, market.ErrUnknownCommodity) {
		writeProblem(w, r, http.StatusNotFound, "unknown_commodity", fmt.Sprintf("no market for %q", commodity))
		return
	}
	if err != nil {
		writeProblem(w, r, http.StatusInternalServerError, "market_error", err.Error())
		return
	}

	writeJSON(w, map[string]any{
		"stats":    e.Stats(),
		"offers":   e.Offers(),
		"requests": e.Requests(),
		"recent":   nonNil(s.Sim.RecentMatches(commodity, 10)),
	})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultMatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, r, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = min(n, maxMatchLimit)
	}
	commodity := r.URL.Query().Get("commodity")
	writeJSON(w, nonNil(s.Sim.RecentMatches(commodity, limit)))
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.AgentViews())
}

func (s *Server) handleGetSpeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Speed == nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "speed required")
		return
	}
	if *req.Speed < 0 || *req.Speed > maxSpeed {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", fmt.Sprintf("speed must be 0-%d", maxSpeed))
		return
	}
	s.Eng.SetSpeed(*req.Speed)
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func nonNil(m []engine.MatchRecord) []engine.MatchRecord {
	if m == nil {
		return []engine.MatchRecord{}
	}
	return m
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, title, detail string) {
	reqID := middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	if reqID != "" {
		w.Header().Set("X-Request-ID", reqID)
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":      title,
		"status":     code,
		"detail":     detail,
		"instance":   r.URL.Path,
		"request_id": reqID,
	})
}
