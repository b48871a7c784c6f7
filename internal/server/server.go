// package server exposes the daemon's observability surface: a liveness
// probe, a token-gated status document, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/shared"
	"github.com/desertthunder/abx/internal/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// lagGrace is added to the lagging threshold so a single slow pass does not
// flap the probe.
const lagGrace = 60 * time.Second

// Server serves /healthz, /status, and /metrics for one running daemon.
type Server struct {
	store        *state.Store
	cfg          shared.ServerConfig
	logger       *log.Logger
	syncInterval time.Duration
	mode         string
	registry     *prometheus.Registry
	router       chi.Router

	now func() time.Time
}

// New builds a Server over the shared state store. registry carries the task
// counters; the store-backed gauges are registered here.
func New(store *state.Store, cfg shared.ServerConfig, syncInterval time.Duration, mode string, registry *prometheus.Registry, logger *log.Logger) *Server {
	s := &Server{
		store:        store,
		cfg:          cfg,
		logger:       logger,
		syncInterval: syncInterval,
		mode:         mode,
		registry:     registry,
		now:          time.Now,
	}
	s.registerGauges()
	s.router = s.routes()
	return s
}

func (s *Server) registerGauges() {
	s.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "abx_watchlist_size",
			Help: "Items currently on the watchlist.",
		}, func() float64 {
			return float64(s.store.Summarize().WatchlistSize)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "abx_items_tracked",
			Help: "Items with recorded sync status.",
		}, func() float64 {
			return float64(s.store.Summarize().TrackedItems)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "abx_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful sync pass.",
		}, func() float64 {
			last := s.store.LastSyncPass()
			if last.IsZero() {
				return 0
			}
			return float64(last.Unix())
		}),
	)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.With(s.requireToken).Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

// requireToken gates a route behind the configured X-Token header. An empty
// configured token leaves the route open.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" && r.Header.Get("X-Token") != s.cfg.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealthz reports ok, or lagging once the last successful pass is
// older than three intervals plus grace. Lagging stays 200: the container
// should not be killed for a slow upstream.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	last := s.store.LastSyncPass()
	if last.IsZero() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "starting"})
		return
	}

	age := s.now().Sub(last)
	if age > 3*s.syncInterval+lagGrace {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "lagging",
			"last_sync_age_s": age.Seconds(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary := s.store.Summarize()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"watchlist_size":      summary.WatchlistSize,
		"total_tracked_items": summary.TrackedItems,
		"last_sync":           summary.LastSuccessfulSync,
		"read_only":           summary.ReadOnly,
		"config": map[string]interface{}{
			"interval_s": s.syncInterval.Seconds(),
			"mode":       s.mode,
		},
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down status server: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
