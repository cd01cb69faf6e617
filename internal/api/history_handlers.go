package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/fitsync/internal/models"
)

func (s *Server) ListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts := s.Migrations.State().History
	if account := r.URL.Query().Get("account_id"); account != "" {
		filtered := make([]*models.MigrationAttempt, 0, len(attempts))
		for _, a := range attempts {
			if a.AccountID == account {
				filtered = append(filtered, a)
			}
		}
		attempts = filtered
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) GetAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, a := range s.Migrations.State().History {
		if a.ID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeError(w, http.StatusNotFound, "attempt not found")
}
