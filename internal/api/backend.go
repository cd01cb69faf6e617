package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rflorenc/fitsync/internal/remote"
)

// maxRecordBytes caps a single record upload.
const maxRecordBytes = 1 << 20

// Backend serves the account-record API the HTTP remote client speaks.
type Backend struct {
	Store   remote.Store
	Token   string // required bearer token; empty disables auth
	Version string
	Logger  *slog.Logger
}

// NewBackendRouter builds the router for the reference account-record service.
func NewBackendRouter(b *Backend) http.Handler {
	logger := b.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", b.Ping)
		r.Group(func(r chi.Router) {
			r.Use(b.requireToken)
			r.Get("/accounts/{accountID}/records/{key}", b.GetRecord)
			r.Put("/accounts/{accountID}/records/{key}", b.PutRecord)
		})
	})
	return r
}

func (b *Backend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Token != "" && r.Header.Get("Authorization") != "Bearer "+b.Token {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Ping reports that the service is up.
func (b *Backend) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, remote.PingResponse{Status: "ok", Version: b.Version})
}

// GetRecord returns the stored record body as is, or 404.
func (b *Backend) GetRecord(w http.ResponseWriter, r *http.Request) {
	accountID, key := chi.URLParam(r, "accountID"), chi.URLParam(r, "key")
	value, ok, err := b.Store.GetAccountRecord(r.Context(), accountID, key)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

// PutRecord stores the request body, which must be a JSON document.
func (b *Backend) PutRecord(w http.ResponseWriter, r *http.Request) {
	accountID, key := chi.URLParam(r, "accountID"), chi.URLParam(r, "key")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "record body must be JSON")
		return
	}
	if err := b.Store.PutAccountRecord(r.Context(), accountID, key, body); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
