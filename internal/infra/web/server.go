package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"marketplace-bargain/internal/infra/broadcast"
	"marketplace-bargain/internal/usecase"
)

// Server fronts the negotiation coordinator over HTTP and, per-session,
// over a websocket room channel. Both surfaces call the same use case; the
// websocket adds nothing but low-latency delivery of room events.
type Server struct {
	uc       usecase.NegotiationUseCase
	hub      *broadcast.Hub
	verifier *Verifier
	timeout  time.Duration
	log      *zerolog.Logger
}

func NewServer(uc usecase.NegotiationUseCase, hub *broadcast.Hub, verifier *Verifier, requestTimeout time.Duration, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Server{uc: uc, hub: hub, verifier: verifier, timeout: requestTimeout, log: &l}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Use(s.verifier.Middleware)
		r.Route("/api/v1/sessions", func(r chi.Router) {
			r.Post("/", s.handleOpenSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleCloseSession)
				r.Post("/messages", s.handlePostMessage)
				r.Post("/read", s.handleMarkRead)
			})
		})
	})

	// The websocket route holds connections open, so no timeout middleware.
	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Get("/ws/sessions/{id}", s.handleRoomSocket)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}
