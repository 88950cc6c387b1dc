// Package server provides the HTTP surface for C10 External Interfaces:
// StateQuery (GET /api/state, /api/decisions, /api/patterns), ControlInput
// (POST /api/control), and the DecisionStream (GET /api/stream, WebSocket).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/internal/cognition"
	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/events"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// maxHistory caps the in-memory decision/cycle history StateQuery serves;
// older entries fall off the front (spec.md section 4.10's "last N decisions").
const maxHistory = 500

// Agent is the narrow surface the server needs from the cognitive loop.
type Agent interface {
	State() domain.AgentState
	Control(cmd cognition.Command, now time.Time) error
}

// PatternSource supplies the active pattern set for StateQuery.
type PatternSource interface {
	Patterns() []domain.Pattern
}

// Config bundles the server's collaborators and listen settings.
type Config struct {
	Log     zerolog.Logger
	Agent   Agent
	Patterns PatternSource
	Bus     *events.Bus
	Port    int
	DevMode bool
}

// Server is the C10 HTTP surface, following the teacher's chi.Mux +
// http.Server pairing (internal/server/server.go).
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger

	agent    Agent
	patterns PatternSource
	bus      *events.Bus

	history *history
}

// New builds the router and wraps it in an http.Server bound to cfg.Port.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      logger.Scoped(cfg.Log, "server"),
		agent:    cfg.Agent,
		patterns: cfg.Patterns,
		bus:      cfg.Bus,
		history:  newHistory(maxHistory),
	}

	s.bus.Subscribe(events.DecisionEmitted, func(e events.Event) {
		if d, ok := e.Payload.(domain.Decision); ok {
			s.history.addDecision(d)
		}
	})
	s.bus.Subscribe(events.CycleCompleted, func(e events.Event) {
		if c, ok := e.Payload.(domain.CycleRecord); ok {
			s.history.setCycle(c)
		}
	})

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/decisions", s.handleDecisions)
		r.Get("/patterns", s.handlePatterns)
		r.Post("/control", s.handleControl)
		r.Get("/stream", s.handleDecisionStream)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loggingMiddleware logs HTTP requests, mirroring the teacher's
// internal/server/server.go request logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting http server")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
