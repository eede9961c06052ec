package server

import (
	"net/http"
)

// listTasks handles GET /task. An optional userID query filters the
// snapshot to that user's tasks.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userID")
	writeJSON(w, http.StatusOK, s.registry.List(userID))
}

// recentTasks handles GET /task/recent: the bounded ring of recently
// completed tasks, oldest first.
func (s *Server) recentTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.RecentlyCompleted())
}
