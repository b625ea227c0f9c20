// Package server is the HTTP transport: the navigation hook the browser
// bridge posts to, the intervention page, and the friction session API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/ppiankov/hallpass/internal/friction"
	"github.com/ppiankov/hallpass/internal/gatekeeper"
	"github.com/ppiankov/hallpass/internal/logging"
	"github.com/ppiankov/hallpass/internal/store"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr           string
	Gatekeeper     *gatekeeper.Gatekeeper
	Engine         *friction.Engine
	Grants         *store.Grants
	AllowedOrigins []string
	// NavigationRateLimit is requests per minute per client IP on the
	// navigation hook. 0 disables the limit.
	NavigationRateLimit int
	Logger              *slog.Logger
	Now                 func() time.Time
}

// Server serves the hallpass HTTP API.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
	http   *http.Server
}

// New builds the router. Gatekeeper, Engine and Grants are required.
func New(cfg Config) (*Server, error) {
	if cfg.Gatekeeper == nil || cfg.Engine == nil || cfg.Grants == nil {
		return nil, errors.New("server: gatekeeper, engine and grants are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/intervention", s.handleIntervention)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.cfg.NavigationRateLimit > 0 {
				r.Use(httprate.LimitByIP(s.cfg.NavigationRateLimit, time.Minute))
			}
			r.Post("/navigation", s.handleNavigation)
		})
		r.Get("/check", s.handleCheck)
		r.Get("/status", s.handleStatus)

		r.Post("/sessions", s.handleOpenSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCloseSession)
			r.Post("/proceed", s.handleProceed)
			r.Post("/input", s.handleInput)
			r.Post("/visibility", s.handleVisibility)
			r.Post("/confirm", s.handleConfirm)
			r.Post("/decline", s.handleDecline)
			r.Post("/abort", s.handleAbort)
			r.Get("/ws", s.handleWebSocket)
		})
	})
	return r
}

// Handler returns the root handler. For testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on the configured address. Blocks until shut down.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on the given listener. Returns nil after Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("http server listening", "addr", lis.Addr().String())
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger tags the request context with the chi request id and logs
// each request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.DebugContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
