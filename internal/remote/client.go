package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rflorenc/fitsync/internal/models"
)

// ClientOptions tune the HTTP client.
type ClientOptions struct {
	// Timeout bounds every single request. Zero means 15s.
	Timeout time.Duration
}

// Client is a Store backed by the account-record HTTP API.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a Client from a RemoteEndpoint.
func NewClient(ep *models.RemoteEndpoint, opts ClientOptions) *Client {
	transport := &http.Transport{}
	if ep.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if ep.CACert != "" {
		caCertPool := x509.NewCertPool()
		if caCertPool.AppendCertsFromPEM([]byte(ep.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
		}
	}
	c := &Client{
		baseURL:    ep.BaseURL(),
		token:      ep.Token,
		timeout:    opts.Timeout,
		httpClient: &http.Client{Transport: transport},
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	return c
}

// PingResponse holds the parsed /api/ping response.
type PingResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func recordPath(accountID, key string) string {
	return "/api/accounts/" + url.PathEscape(accountID) + "/records/" + url.PathEscape(key)
}

// do performs an authenticated request and returns status and body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w: %v", method, path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// GetAccountRecord fetches one record. A 404 means the record is absent.
func (c *Client) GetAccountRecord(ctx context.Context, accountID, key string) ([]byte, bool, error) {
	path := recordPath(accountID, key)
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, false, nil
	case status < 200 || status >= 300:
		return nil, false, fmt.Errorf("GET %s: HTTP %d: %s", path, status, truncate(string(body), 200))
	}
	return body, true, nil
}

// PutAccountRecord stores one record.
func (c *Client) PutAccountRecord(ctx context.Context, accountID, key string, value []byte) error {
	path := recordPath(accountID, key)
	status, body, err := c.do(ctx, http.MethodPut, path, value)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("PUT %s: HTTP %d: %s", path, status, truncate(string(body), 200))
	}
	return nil
}

// Ping checks that the service is reachable and reports its version.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/ping", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("GET /api/ping: HTTP %d: %s", status, truncate(string(body), 200))
	}
	var resp PingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing ping response: %w", err)
	}
	if resp.Status != "ok" {
		return &resp, errors.New("ping: service reports status " + resp.Status)
	}
	return &resp, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
