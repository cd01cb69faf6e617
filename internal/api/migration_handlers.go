package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/migration"
	"github.com/rflorenc/fitsync/internal/models"
)

// GetMigrationState returns the current migration state snapshot.
func (s *Server) GetMigrationState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Migrations.State())
}

// GetMigrationNeeded answers whether account_id should be offered a migration.
func (s *Server) GetMigrationNeeded(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"needed":     s.Migrations.CheckProfileMigrationNeeded(accountID),
	})
}

// GetInventory lists the guest records worth migrating.
func (s *Server) GetInventory(w http.ResponseWriter, r *http.Request) {
	records := s.Migrations.Inventory().Records()
	if records == nil {
		records = []models.MigrationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"has_local_data": len(records) > 0,
		"records":        records,
	})
}

// GetMigrationPreview runs a read-only dry run for account_id.
func (s *Server) GetMigrationPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.Migrations.PreviewMigration(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// StartMigration starts a migration in the background. Progress is available
// from the state endpoint and the event stream.
func (s *Server) StartMigration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if _, err := s.Migrations.AssociateAccount(req.AccountID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	attemptID, done, err := s.Migrations.StartAsync(s.baseContext(), req.AccountID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	logger := s.logger().With("attempt", attemptID, "account", req.AccountID)
	go func() {
		res := <-done
		if res != nil && !res.Success {
			logger.Warn("background migration finished with errors", "errors", len(res.Errors))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"attempt_id": attemptID})
}

// CancelMigration asks the running migration to stop.
func (s *Server) CancelMigration(w http.ResponseWriter, r *http.Request) {
	if !s.Migrations.CancelMigration() {
		writeError(w, http.StatusConflict, "no migration is running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// ClearMigrationState drops progress and the last result.
func (s *Server) ClearMigrationState(w http.ResponseWriter, r *http.Request) {
	s.Migrations.ClearMigrationState()
	writeJSON(w, http.StatusOK, s.Migrations.State())
}

// CheckMigrationStatus reloads history and recomputes the state flags.
func (s *Server) CheckMigrationStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.Migrations.CheckMigrationStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// statusFor maps migration precondition errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, migration.ErrMigrationActive), errors.Is(err, migration.ErrAccountAssociated):
		return http.StatusConflict
	case errors.Is(err, migration.ErrMissingAccount):
		return http.StatusBadRequest
	case errors.Is(err, keyspace.ErrInvalidAccount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
