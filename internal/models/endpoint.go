package models

import (
	"fmt"
	"time"
)

// RemoteEndpoint is the account-record service the migration pushes to.
type RemoteEndpoint struct {
	Name     string `json:"name" yaml:"name"`
	Scheme   string `json:"scheme" yaml:"scheme"` // "http" or "https"
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Token    string `json:"token" yaml:"token"`
	Insecure bool   `json:"insecure" yaml:"insecure"` // skip TLS verification
	CACert   string `json:"ca_cert,omitempty" yaml:"ca_cert"`

	// Health, as last observed by a ping.
	PingStatus  string     `json:"ping_status" yaml:"-"` // "unknown", "ok", "error"
	PingError   string     `json:"ping_error,omitempty" yaml:"-"`
	LastChecked *time.Time `json:"last_checked,omitempty" yaml:"-"`
}

// ApplyDefaults fills scheme and port the same way the config loader does.
func (e *RemoteEndpoint) ApplyDefaults() {
	if e.Scheme == "" {
		e.Scheme = "https"
	}
	if e.Port == 0 {
		if e.Scheme == "https" {
			e.Port = 443
		} else {
			e.Port = 80
		}
	}
	if e.PingStatus == "" {
		e.PingStatus = "unknown"
	}
}

// BaseURL returns the full base URL for this endpoint.
func (e *RemoteEndpoint) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// MaskedToken hides the bearer token for display.
func (e *RemoteEndpoint) MaskedToken() string {
	if e.Token == "" {
		return ""
	}
	return "••••••••"
}

// SetHealth records the outcome of a ping.
func (e *RemoteEndpoint) SetHealth(status, errMsg string) {
	now := time.Now()
	e.PingStatus = status
	e.PingError = errMsg
	e.LastChecked = &now
}
