// Package api exposes the ops endpoints (/healthz, /metrics) while a long
// import run is in progress. The server is optional and off by default.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is the ops HTTP server.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// server implements Server.
type server struct {
	log    logrus.FieldLogger
	listen string
	srv    *http.Server
	router chi.Router
}

// Ensure server implements Server.
var _ Server = (*server)(nil)

// NewServer creates the ops server listening on the given address.
func NewServer(log logrus.FieldLogger, listen string) Server {
	s := &server{
		log:    log.WithField("component", "api"),
		listen: listen,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the routes.
func (s *server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

// Start starts the HTTP server.
func (s *server) Start(_ context.Context) error {
	s.srv = &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("addr", s.listen).Info("Starting ops server")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Ops server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.srv == nil {
		return nil
	}

	s.log.Info("Stopping ops server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}
