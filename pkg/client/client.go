// Package client provides a small Go SDK for the Sentinel management API:
// operator login, agent enrollment and lifecycle, and agent heartbeats.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the server rejects the session token or,
// for heartbeats, the agent's API key.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound is returned for unknown agent IDs.
var ErrNotFound = errors.New("not found")

// Agent is the directory record returned by the management API.
type Agent struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	Hostname        string     `json:"hostname"`
	OperatingSystem string     `json:"operating_system"`
	AgentVersion    string     `json:"agent_version"`
	IPAddress       string     `json:"ip_address"`
	Status          string     `json:"status"`
	RegisteredAt    time.Time  `json:"registered_at"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
}

// RegisterResult holds the enrollment response. APIKey is the plaintext key,
// delivered exactly once — the server stores only its hash.
type RegisterResult struct {
	Agent  *Agent `json:"agent"`
	APIKey string `json:"api_key"`
	Note   string `json:"note"`
}

// Client talks to a Sentinel backend over its management HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken attaches a session token (from Login) to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login exchanges operator credentials for a session token and attaches it to
// the client for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

// RegisterAgent enrolls a new agent and returns its record plus the plaintext
// API key. Store the key — it cannot be retrieved again.
func (c *Client) RegisterAgent(ctx context.Context, agentID, hostname, os, version, ipAddress string) (*RegisterResult, error) {
	payload := map[string]string{
		"agent_id":      agentID,
		"hostname":      hostname,
		"os":            os,
		"agent_version": version,
		"ip_address":    ipAddress,
	}
	var result RegisterResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/agents", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAgent fetches one agent by its internal UUID.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var resp struct {
		Agent *Agent `json:"agent"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/agents/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agent, nil
}

// ListAgents returns registered agents with limit/offset pagination.
// Pass limit 0 for the server default.
func (c *Client) ListAgents(ctx context.Context, limit, offset int) ([]*Agent, error) {
	path := "/api/v1/agents"
	if limit > 0 || offset > 0 {
		path += "?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	}
	var resp struct {
		Agents []*Agent `json:"agents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// RevokeAgent permanently disables an agent's credentials.
func (c *Client) RevokeAgent(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/agents/"+id+"/revoke", nil, nil)
}

// Heartbeat reports agent liveness using the agent's own API key. It does not
// require a session token.
func (c *Client) Heartbeat(ctx context.Context, agentID, apiKey string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/agents/heartbeat",
		map[string]string{"agent_id": agentID, "api_key": apiKey}, nil)
}

// Health checks the server's /healthz endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// doJSON executes one API call. reqBody and respBody are JSON-encoded and
// decoded; pass nil for either when not needed.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiError(body))
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiError(body))
	case resp.StatusCode >= 300:
		return fmt.Errorf("server error %d: %s", resp.StatusCode, apiError(body))
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError extracts the "error" field from an error response body, falling
// back to the raw body.
func apiError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
