package api

import (
	"net/http"
	"time"
)

type remoteView struct {
	Name        string     `json:"name"`
	BaseURL     string     `json:"base_url"`
	Token       string     `json:"token,omitempty"`
	PingStatus  string     `json:"ping_status"`
	PingError   string     `json:"ping_error,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

func (s *Server) remoteView() remoteView {
	s.endpointMu.Lock()
	defer s.endpointMu.Unlock()
	ep := s.Endpoint
	v := remoteView{
		Name:       ep.Name,
		BaseURL:    ep.BaseURL(),
		Token:      ep.MaskedToken(),
		PingStatus: ep.PingStatus,
		PingError:  ep.PingError,
	}
	if ep.LastChecked != nil {
		t := *ep.LastChecked
		v.LastChecked = &t
	}
	return v
}

// GetRemote describes the configured remote service and its last health check.
func (s *Server) GetRemote(w http.ResponseWriter, r *http.Request) {
	if s.Endpoint == nil {
		writeError(w, http.StatusNotFound, "no HTTP remote configured")
		return
	}
	writeJSON(w, http.StatusOK, s.remoteView())
}

// TestRemote pings the remote service and records the outcome.
func (s *Server) TestRemote(w http.ResponseWriter, r *http.Request) {
	if s.Endpoint == nil || s.Pinger == nil {
		writeError(w, http.StatusNotFound, "no HTTP remote configured")
		return
	}
	resp, err := s.Pinger.Ping(r.Context())

	s.endpointMu.Lock()
	if err != nil {
		s.Endpoint.SetHealth("error", err.Error())
	} else {
		s.Endpoint.SetHealth("ok", "")
	}
	s.endpointMu.Unlock()

	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"version": resp.Version,
	})
}
