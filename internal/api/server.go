// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api binds the command facade to HTTP. Handlers stay thin; all
// behavior lives in the services they call.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/CAFxX/httpcompression"
	brotli "github.com/CAFxX/httpcompression/contrib/andybalholm/brotli"
	zstd "github.com/CAFxX/httpcompression/contrib/klauspost/zstd"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/config"
	"github.com/autobrr/fetcharr/internal/dbinterface"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/services/requests"
	"github.com/autobrr/fetcharr/internal/torrents"

	"github.com/autobrr/fetcharr/internal/api/handlers"
)

// Dependencies wires the server's collaborators.
type Dependencies struct {
	Config    *config.AppConfig
	DB        dbinterface.Querier
	Requests  *requests.Service
	Templates *models.PipelineTemplateStore
	Servers   *models.StorageServerStore
	Profiles  *models.EncodingProfileStore
	Torrents  torrents.Client
}

// Server is the HTTP front of fetcharr.
type Server struct {
	deps *Dependencies
	http *http.Server
}

// NewServer builds the server; call ListenAndServe to run it.
func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler assembles the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	if compress, err := newCompressor(); err == nil {
		r.Use(compress)
	} else {
		log.Warn().Err(err).Msg("api: response compression disabled")
	}

	r.Route("/api", func(api chi.Router) {
		handlers.NewHealthHandler(s.deps.DB, s.deps.Torrents).Routes(api)
		handlers.NewVersionHandler().Routes(api)
		handlers.NewRequestsHandler(s.deps.Requests).Routes(api)
		handlers.NewServersHandler(s.deps.Servers).Routes(api)
		handlers.NewProfilesHandler(s.deps.Profiles).Routes(api)
		handlers.NewTemplatesHandler(s.deps.Templates).Routes(api)
	})

	if s.deps.Config != nil && s.deps.Config.Config.PprofEnabled {
		r.Route("/debug/pprof", func(p chi.Router) {
			p.Get("/", pprof.Index)
			p.Get("/cmdline", pprof.Cmdline)
			p.Get("/profile", pprof.Profile)
			p.Get("/symbol", pprof.Symbol)
			p.Get("/trace", pprof.Trace)
			p.Handle("/{name}", http.HandlerFunc(pprof.Index))
		})
	}

	return r
}

// newCompressor prefers zstd, then brotli, falling back to the adapter's
// default gzip.
func newCompressor() (func(http.Handler) http.Handler, error) {
	zstdEnc, err := zstd.New()
	if err != nil {
		return nil, err
	}
	brotliEnc, err := brotli.New(brotli.Options{})
	if err != nil {
		return nil, err
	}

	return httpcompression.Adapter(
		httpcompression.Prefer(httpcompression.PreferServer),
		httpcompression.Compressor(zstd.Encoding, 3, zstdEnc),
		httpcompression.Compressor(brotli.Encoding, 2, brotliEnc),
	)
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.deps.Config.Config
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("api: listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("api: request")
	})
}
