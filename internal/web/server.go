// Package web exposes a live try-on session over HTTP: an MJPEG preview of
// the output surface, shade selection, camera controls and state events.
package web

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/shade"
	"github.com/andresmejia3/tryon/internal/snapshot"
	"github.com/andresmejia3/tryon/internal/state"
)

// Controls are the session actions triggered from the browser.
type Controls interface {
	Retry(ctx context.Context) error
	NotifyInteraction(ctx context.Context) error
	SetVisible(visible bool)
	Snapshot() *image.RGBA
}

type Options struct {
	Host string
	Port int
	// StreamFPS caps the MJPEG preview rate.
	StreamFPS int
	// Filename is the download name of exported snapshots.
	Filename string
}

// Server is the HTTP surface of one session.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	state      *state.Store
	catalog    *shade.Catalog
	controls   Controls
	exporter   *snapshot.Exporter
	opts       Options
	log        zerolog.Logger

	// base context for actions that outlive their request
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds the router. exporter may be nil, which disables saving
// snapshots on the server.
func NewServer(st *state.Store, catalog *shade.Catalog, controls Controls, exporter *snapshot.Exporter, opts Options, log zerolog.Logger) *Server {
	if opts.StreamFPS <= 0 {
		opts.StreamFPS = 15
	}
	if opts.Filename == "" {
		opts.Filename = snapshot.DefaultFilename
	}
	r := chi.NewRouter()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		router:   r,
		state:    st,
		catalog:  catalog,
		controls: controls,
		exporter: exporter,
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: the preview and event streams are long-lived
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.index)
	s.router.Get("/stream.mjpeg", s.stream)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/state", s.getState)
		r.Get("/events", s.events)

		r.Get("/shades", s.listShades)
		r.Post("/shades", s.addShade)
		r.Put("/shades/selected", s.selectShade)

		r.Post("/camera/retry", s.retry)
		r.Post("/interaction", s.interaction)
		r.Post("/visibility", s.visibility)

		r.Get("/snapshot.png", s.downloadSnapshot)
		r.Post("/snapshots", s.saveSnapshot)
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("Starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and ends the open streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down web server")
	s.cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Str("request_id", chiMiddleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
