package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			// Messages
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)

			// Consistency operations
			r.Post("/reconcile", s.reconcileSession)
			r.Get("/validate", s.validateSession)
			r.Post("/compact", s.compactSession)

			// Live steering
			r.Post("/steer", s.steerSession)

			// Sidebar refresh
			r.Post("/refresh", s.refreshSession)
		})
	})

	// Task routes
	r.Route("/task", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Get("/recent", s.recentTasks)
	})

	// Event streaming (SSE)
	r.Get("/event", s.taskEvents)
}
