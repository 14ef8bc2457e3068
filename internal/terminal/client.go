// Package terminal implements the HTTP client for Control iD style access
// terminals. The device exposes a session based fcgi API: login.fcgi returns
// a session identifier which must accompany every other call as a query
// parameter.
//
// The device enforces a single session per credential. A login while a stale
// server-side session exists is rejected; callers recover by issuing a
// best-effort logout first. The condition is surfaced as ErrSessionActive so
// callers never have to match on error message text.
package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// Login succeeded at transport level but no session id was returned
	ErrEmptySession = errors.New("terminal returned no session identifier")
	// The session token is no longer accepted by the terminal
	ErrSessionExpired = errors.New("terminal session expired or invalid")
	// The terminal reports another active session for these credentials
	ErrSessionActive = errors.New("terminal reports an already active session")
)

// APIError is a non-auth error response from the terminal.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("terminal API error: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to one or more terminals. It is stateless with respect to
// sessions; session tokens are owned by the session keeper.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: slog.With("component", "terminal"),
	}
}

// Login authenticates against the terminal and returns the session token.
func (c *Client) Login(ctx context.Context, address, username, password string) (string, error) {
	payload := map[string]string{
		"login":    username,
		"password": password,
	}

	resp, err := c.post(ctx, address, "/login.fcgi", "", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		// Stale server-side session for these credentials
		io.Copy(io.Discard, resp.Body)
		return "", ErrSessionActive
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("login rejected: %w", ErrSessionExpired)
	case resp.StatusCode >= 400:
		return "", readAPIError(resp)
	}

	var body struct {
		Session string `json:"session"`
	}
	if err := decodeJSON(resp.Body, &body); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if body.Session == "" {
		return "", ErrEmptySession
	}

	c.logger.Debug("Login succeeded", "address", address)
	return body.Session, nil
}

// Logout closes the session on the terminal side.
func (c *Client) Logout(ctx context.Context, address, session string) error {
	resp, err := c.post(ctx, address, "/logout.fcgi", session, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("logout failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

// SessionValid probes the session with a minimal object query. Any transport
// or HTTP failure counts as invalid; the caller re-authenticates.
func (c *Client) SessionValid(ctx context.Context, address, session string) bool {
	if session == "" {
		return false
	}

	payload := map[string]any{
		"object": "users",
		"limit":  1,
	}
	resp, err := c.post(ctx, address, "/load_objects.fcgi", session, payload)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// LoadAccessLogs fetches access log records, optionally filtered by an
// inclusive lower bound on event time (Unix seconds). Record order is
// whatever the terminal produces; callers must not rely on it.
func (c *Client) LoadAccessLogs(ctx context.Context, address, session string, since *int64) ([]AccessEvent, error) {
	payload := map[string]any{
		"object": "access_logs",
	}
	if since != nil {
		payload["where"] = map[string]any{
			"access_logs": map[string]any{
				"time": map[string]any{">=": *since},
			},
		}
	}

	resp, err := c.post(ctx, address, "/load_objects.fcgi", session, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrSessionExpired
	}
	if resp.StatusCode >= 400 {
		return nil, readAPIError(resp)
	}

	var body struct {
		AccessLogs []AccessEvent `json:"access_logs"`
	}
	if err := decodeJSON(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode access logs: %w", err)
	}

	c.logger.Debug("Loaded access logs", "address", address, "count", len(body.AccessLogs))
	return body.AccessLogs, nil
}

// OpenRelay pulses a relay on the terminal, typically releasing a door.
func (c *Client) OpenRelay(ctx context.Context, address, session string, relayID int) error {
	payload := map[string]any{
		"action":   "open",
		"relay_id": relayID,
	}

	resp, err := c.post(ctx, address, "/control/relay.fcgi", session, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSessionExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("relay control failed: HTTP %d", resp.StatusCode)
	}

	c.logger.Info("Relay released", "address", address, "relay_id", relayID)
	return nil
}

func (c *Client) post(ctx context.Context, address, path, session string, payload any) (*http.Response, error) {
	u := fmt.Sprintf("http://%s%s", address, path)
	if session != "" {
		u += "?session=" + url.QueryEscape(session)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("terminal unreachable: %w", err)
	}
	return resp, nil
}

// Some firmwares prepend a BOM to their JSON responses. Strip it before
// decoding.
func decodeJSON(r io.Reader, v any) error {
	clean := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	return json.NewDecoder(clean).Decode(v)
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
}
