// Package server exposes the challenge and leaderboard operations over
// HTTP. Identity arrives preauthenticated in gateway headers; every
// response travels in a uniform success/error envelope.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reflexgg/lightsout/internal/challenge"
	"github.com/reflexgg/lightsout/internal/store"
)

// Options configures a Server. Zero values take the defaults below.
type Options struct {
	Logger *slog.Logger

	// Metrics, when set, mounts /metrics for the given gatherer.
	Metrics prometheus.Gatherer

	// ShutdownTimeout bounds the drain on graceful stop. Default 10s.
	ShutdownTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
}

// Server routes HTTP traffic onto the challenge service.
type Server struct {
	svc             *challenge.Service
	store           *store.Store
	log             *slog.Logger
	gatherer        prometheus.Gatherer
	shutdownTimeout time.Duration
}

// New wires a Server over the service and its storage engine. The
// store is only consulted for health reporting.
func New(svc *challenge.Service, st *store.Store, opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		svc:             svc,
		store:           st,
		log:             opts.Logger,
		gatherer:        opts.Metrics,
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/challenges", s.handleCreateChallenge).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}/accept", s.handleAcceptChallenge).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}/submit", s.handleSubmitAttempt).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}/replay", s.handleValidateReplay).Methods(http.MethodPost)
	api.HandleFunc("/scores", s.handleSubmitScore).Methods(http.MethodPost)
	api.HandleFunc("/leaderboards/{scope}/{period}", s.handleLeaderboard).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	states := s.store.BreakerStates()
	status := "ok"
	for _, st := range states {
		if st == store.BreakerOpen {
			status = "degraded"
			break
		}
	}
	s.respond(w, http.StatusOK, map[string]any{
		"status":   status,
		"breakers": states,
	})
}

// statusRecorder captures the written status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
