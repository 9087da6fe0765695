// Package server exposes the control API: batch start/status/cancel, the
// single-company accept endpoint, health, and a live metrics stream.
package server

import (
	"context"
	"net/http"

	"github.com/b2bflash/crawler/internal/app"
	"github.com/go-mizu/mizu"
	"github.com/rs/zerolog/log"
)

// Server wires the HTTP control surface over the application container.
type Server struct {
	app  *app.Application
	mizu *mizu.App
}

// New builds the router. The grace period becomes mizu's drain window.
func New(a *app.Application) *Server {
	m := mizu.New()
	m.ShutdownTimeout = a.Config.GracePeriod
	s := &Server{app: a, mizu: m}

	s.mizu.Post("/v2/scrape/batch", s.handleStartBatch)
	s.mizu.Get("/v2/scrape/batch/status", s.handleBatchStatus)
	s.mizu.Post("/v2/scrape/batch/cancel", s.handleCancelBatch)
	s.mizu.Get("/v2/scrape/batch/live", s.handleLive)
	s.mizu.Post("/v2/scrape", s.handleAcceptCompany)
	s.mizu.Get("/healthz", s.handleHealth)

	return s
}

// Handler returns the root http.Handler, used by tests.
func (s *Server) Handler() http.Handler { return s.mizu }

// Listen serves until the context is cancelled, then drains through mizu's
// graceful-shutdown path, which also flips the health endpoint to 503.
func (s *Server) Listen(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mizu}
	log.Info().Str("addr", addr).Msg("Control API listening")
	return s.mizu.ServeContext(ctx, srv, srv.ListenAndServe)
}
