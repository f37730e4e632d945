package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"studyplan/internal/config"
	appLog "studyplan/internal/log"
	"studyplan/internal/pipeline"
)

// DefaultPlanTTL is how long a built plan is served before the next
// request rebuilds it.
const DefaultPlanTTL = 60 * time.Second

// PlanSource builds a fresh plan. *pipeline.Runner's Run satisfies it via
// PlanFunc.
type PlanSource interface {
	Plan(ctx context.Context) (*pipeline.Plan, error)
}

// PlanFunc adapts a function to PlanSource.
type PlanFunc func(ctx context.Context) (*pipeline.Plan, error)

func (f PlanFunc) Plan(ctx context.Context) (*pipeline.Plan, error) { return f(ctx) }

// Server exposes the current plan over HTTP:
//
//	GET /health     liveness, never behind auth
//	GET /api/plan   plan as JSON (sessions, explainability, free windows)
//	GET /plan.ics   planned sessions as a subscribable iCalendar feed
type Server struct {
	cfg    *config.Config
	source PlanSource
	ttl    time.Duration
	now    func() time.Time
	mux    *http.ServeMux

	// Built plans are cached so feed subscribers polling every few
	// minutes do not refetch every calendar.
	planMu    sync.Mutex
	planCache *planCache
}

// planCache holds a built plan and its timestamp.
type planCache struct {
	plan      *pipeline.Plan
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, source PlanSource) *Server {
	s := &Server{
		cfg:    cfg,
		source: source,
		ttl:    DefaultPlanTTL,
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// WithTTL overrides the plan cache lifetime. Zero disables caching.
func (s *Server) WithTTL(ttl time.Duration) *Server {
	s.ttl = ttl
	return s
}

// Store replaces the cached plan, e.g. after a scheduled refresh.
func (s *Server) Store(plan *pipeline.Plan) {
	s.planMu.Lock()
	s.planCache = &planCache{plan: plan, updatedAt: s.now()}
	s.planMu.Unlock()
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="studyplan", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/plan", s.handlePlan)
	s.mux.HandleFunc("GET /plan.ics", s.handleFeed)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// currentPlan returns the cached plan while fresh, otherwise builds one.
// The lock is held across the build so concurrent misses build once.
func (s *Server) currentPlan(ctx context.Context) (*pipeline.Plan, error) {
	s.planMu.Lock()
	defer s.planMu.Unlock()

	if pc := s.planCache; pc != nil && s.now().Sub(pc.updatedAt) < s.ttl {
		return pc.plan, nil
	}

	plan, err := s.source.Plan(ctx)
	if err != nil {
		// Serve the last good plan rather than nothing.
		if s.planCache != nil {
			appLog.Error("plan rebuild failed; serving previous plan", err)
			return s.planCache.plan, nil
		}
		return nil, err
	}
	s.planCache = &planCache{plan: plan, updatedAt: s.now()}
	return plan, nil
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.currentPlan(r.Context())
	if err != nil {
		appLog.Error("api plan: build failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build plan")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	plan, err := s.currentPlan(r.Context())
	if err != nil {
		appLog.Error("plan feed: build failed", err)
		http.Error(w, "failed to build plan", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+pipeline.PlanICSName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(plan.Feed))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
