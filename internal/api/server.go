// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/periscope/internal/logging"
)

// Server hosts the local API over plain HTTP. It binds loopback by
// default; exposing it wider is a deployment decision.
type Server struct {
	handler *Handler
	addr    string
	timeout time.Duration
}

// NewServer builds the API server for the given listen address.
func NewServer(handler *Handler, host string, port int, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		handler: handler,
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: timeout,
	}
}

// Routes assembles the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.timeout))

	r.Get("/healthz", s.handler.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handler.Status)
		r.Get("/sessions", s.handler.Sessions)
		r.Get("/sessions/{deviceKey}", s.handler.Session)
		r.Post("/sessions/{deviceKey}/command", s.handler.Command)
		r.Get("/library", s.handler.Library)
		r.Get("/library/{containerID}", s.handler.Library)
	})

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
// Blocks; intended to run under a supervisor.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.timeout,
		WriteTimeout:      s.timeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
