// Package server wires the HTTP surface: the WebSocket chat endpoint plus a
// small REST API for chat retrieval and health checks.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/xfrllc/frank/internal/auth"
	"github.com/xfrllc/frank/internal/logging"
	"github.com/xfrllc/frank/internal/store"
	"github.com/xfrllc/frank/internal/ws"
)

// Server is the HTTP server hosting the API and WebSocket endpoints.
type Server struct {
	httpServer *http.Server
	router     chi.Router
}

// New creates the server with all routes mounted.
func New(port int, authSvc *auth.Service, st *store.Store, wsHandler *ws.Handler) *Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/healthz", handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(authSvc.Middleware)
		r.Get("/api/chats/{chatID}", handleGetChat(st))
	})

	r.Handle("/ws/chat", wsHandler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router: r,
	}
}

// Router exposes the mux, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	logging.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info().Msg("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
