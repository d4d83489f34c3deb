// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package transport implements the typed REST client for the remote
// media server. It exposes the session list, hierarchical library
// browsing, and remote-control command delivery, and classifies every
// failure into the ErrUnavailable / ErrAuthRejected / ErrMalformed
// taxonomy consumed by the coordinator.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/periscope/internal/models"
)

// Client defines the remote server operations consumed by the
// coordinator and the library browser. HTTPClient and the circuit
// breaker wrapper both implement it.
type Client interface {
	Ping(ctx context.Context) error
	ListSessions(ctx context.Context) ([]models.ServerSession, error)
	GetLibraryItems(ctx context.Context, containerID, cursor string) (*models.LibraryPage, error)
	SendCommand(ctx context.Context, sessionToken, command string, args map[string]string) error
	WebSocketURL() (string, error)
}

var _ Client = (*HTTPClient)(nil)

// Config configures an HTTPClient.
type Config struct {
	// BaseURL is the media server URL (e.g. http://localhost:8096).
	BaseURL string

	// Token is the API token.
	Token string

	// Timeout bounds every request.
	Timeout time.Duration

	// RequestsPerSecond limits outgoing requests; 0 disables the limiter.
	RequestsPerSecond float64
}

// HTTPClient talks to the remote media server's REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient creates a client for the given server.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	return &HTTPClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Ping tests connectivity to the server. Used as the coordinator's
// one-off recovery probe.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/System/Ping", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return c.checkStatus(resp, "ping")
}

// ListSessions retrieves all sessions currently known to the server.
func (c *HTTPClient) ListSessions(ctx context.Context) ([]models.ServerSession, error) {
	resp, err := c.do(ctx, http.MethodGet, "/Sessions", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp, "sessions"); err != nil {
		return nil, err
	}

	var sessions []models.ServerSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("%w: decode sessions: %v", ErrMalformed, err)
	}
	return sessions, nil
}

// GetLibraryItems fetches one page of children of a container. cursor is
// the opaque continuation returned in the previous page, empty for the
// first page.
func (c *HTTPClient) GetLibraryItems(ctx context.Context, containerID, cursor string) (*models.LibraryPage, error) {
	q := url.Values{}
	if containerID != "" {
		q.Set("ParentId", containerID)
	}
	if cursor != "" {
		q.Set("StartIndex", cursor)
	}

	resp, err := c.do(ctx, http.MethodGet, "/Items?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp, "items"); err != nil {
		return nil, err
	}

	var page models.LibraryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode items: %v", ErrMalformed, err)
	}
	return &page, nil
}

// SendCommand delivers a remote-control command to a session. The server
// addresses commands by session token, not device key; the coordinator
// resolves the stable key to the current token before calling this.
func (c *HTTPClient) SendCommand(ctx context.Context, sessionToken, command string, args map[string]string) error {
	body := struct {
		Name      string            `json:"Name"`
		Arguments map[string]string `json:"Arguments,omitempty"`
	}{Name: command, Arguments: args}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	endpoint := fmt.Sprintf("/Sessions/%s/Command", url.PathEscape(sessionToken))
	resp, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// 204 No Content on success.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	return c.checkStatus(resp, "command")
}

// WebSocketURL returns the push endpoint with credentials applied.
func (c *HTTPClient) WebSocketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}

	parsed.Path = "/socket"
	q := parsed.Query()
	q.Set("api_key", c.token)
	q.Set("deviceId", "periscope")
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

// do performs one request with rate limiting and auth headers applied.
// Network-level failures map to ErrUnavailable.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Emby-Token", c.token)
	req.Header.Set("X-Emby-Client", "Periscope")
	req.Header.Set("X-Emby-Device-Id", "periscope")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, endpoint, err)
	}
	return resp, nil
}

// checkStatus classifies a non-2xx response into the failure taxonomy.
func (c *HTTPClient) checkStatus(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned status %d", ErrAuthRejected, op, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned status %d: %s", ErrUnavailable, op, resp.StatusCode, string(body))
	}
}
