// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"loadplane/internal/controller/handlers"
	"loadplane/internal/controller/middleware"
)

// Options configures the controller server.
type Options struct {
	Addr string
	// APIKeyHash is the hashed operator key; empty disables operator auth.
	APIKeyHash string
	// InternalSecret guards the /internal routes.
	InternalSecret string
	RateLimit      float64
	RateLimitBurst int
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(opts Options, engine handlers.Engine, db handlers.Pinger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      Routes(opts, engine, db),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Routes builds the controller's handler tree.
func Routes(opts Options, engine handlers.Engine, db handlers.Pinger) http.Handler {
	h := handlers.New(engine, db, opts.Logger)
	authMW := middleware.APIKeyAuth(opts.APIKeyHash)
	limitMW := middleware.NewRateLimiter(middleware.WithLimit(opts.RateLimit, opts.RateLimitBurst)).Middleware()
	internalMW := middleware.RequireInternalAuth(opts.InternalSecret)

	public := func(fn http.HandlerFunc) http.Handler {
		return limitMW(authMW(fn))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Operator apis
	mux.Handle("GET /scenarios", public(h.ListTests))
	mux.Handle("POST /scenarios", public(h.CreateTest))
	mux.Handle("POST /scenarios/schedule", public(h.ScheduleTest))
	mux.Handle("GET /scenarios/{id}", public(h.GetTest))
	mux.Handle("DELETE /scenarios/{id}", public(h.DeleteTest))
	mux.Handle("POST /scenarios/{id}/cancel", public(h.CancelTest))
	mux.Handle("GET /scenarios/{id}/runs", public(h.GetTestRuns))
	mux.Handle("DELETE /scenarios/{id}/runs", public(h.DeleteTestRuns))
	mux.Handle("PUT /scenarios/{id}/baseline", public(h.SetBaseline))
	mux.Handle("GET /scenarios/{id}/baseline", public(h.GetBaseline))
	mux.Handle("DELETE /scenarios/{id}/baseline", public(h.ClearBaseline))
	mux.Handle("GET /tasks", public(h.ListTasks))
	mux.Handle("GET /capacity", public(h.GetCapacity))
	mux.Handle("GET /regions", public(h.ListRegions))
	mux.Handle("GET /stack-info", public(h.StackInfo))

	// Internal endpoints
	// These are called by schedule rules, the workflow backend and provisioning.
	mux.Handle("POST /internal/schedule", internalMW(http.HandlerFunc(h.InternalSchedule)))
	mux.Handle("PUT /internal/scenarios/{id}/runs/{runId}/result", internalMW(http.HandlerFunc(h.InternalCompleteRun)))
	mux.Handle("PUT /internal/regions", internalMW(http.HandlerFunc(h.InternalPutRegion)))

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return middleware.RequestID(log)(mux)
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
