// Package client is a thin HTTP wrapper around the Controller's REST API,
// used by every Agent subcomponent that needs to register, heartbeat,
// fetch configuration, or report stats.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// Client calls the Controller's REST API over plain HTTP. The overlay
// network this traffic crosses is treated as trusted; no request signing
// or mutual authentication is layered on top.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client targeting the given Controller base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Register calls POST /api/v1/agents/register.
func (c *Client) Register(ctx context.Context, req wire.RegisterRequest) (*wire.AgentStatus, error) {
	var resp wire.AgentStatus
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/agents/register", req, &resp); err != nil {
		return nil, fmt.Errorf("client: register: %w", err)
	}
	return &resp, nil
}

// Heartbeat calls POST /api/v1/agents/{id}/heartbeat.
func (c *Client) Heartbeat(ctx context.Context, agentID uint64, req wire.HeartbeatRequest) (*wire.AgentStatus, error) {
	var resp wire.AgentStatus
	path := fmt.Sprintf("/api/v1/agents/%d/heartbeat", agentID)
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("client: heartbeat: %w", err)
	}
	return &resp, nil
}

// GetConfig calls GET /api/v1/agents/{id}/config.
func (c *Client) GetConfig(ctx context.Context, agentID uint64) (*wire.AgentConfig, error) {
	var resp wire.AgentConfig
	path := fmt.Sprintf("/api/v1/agents/%d/config", agentID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("client: get config: %w", err)
	}
	return &resp, nil
}

// PostStats calls POST /api/v1/stats/connections.
func (c *Client) PostStats(ctx context.Context, req wire.StatsIntakeRequest) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/stats/connections", req, nil); err != nil {
		return fmt.Errorf("client: post stats: %w", err)
	}
	return nil
}

// TriggerSync calls POST {agentBaseURL}/trigger-sync on an Agent's overlay
// API, asking it to fetch and apply configuration immediately. Unlike the
// other methods it does not target this client's Controller base URL: the
// Controller uses it to push a config-changed nudge out to each Agent after
// a mutation.
func (c *Client) TriggerSync(ctx context.Context, agentBaseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agentBaseURL+"/trigger-sync", nil)
	if err != nil {
		return fmt.Errorf("client: trigger sync: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: trigger sync: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

// PostAlert calls POST /api/v1/alerts, surfacing a locally detected
// condition (an unresolvable firewall interface, for instance) to the
// Controller's operator-visible alert stream.
func (c *Client) PostAlert(ctx context.Context, kind, message string, agentID uint64) error {
	req := wire.CreateAlertRequest{Kind: kind, Message: message, AgentID: &agentID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/alerts", req, nil); err != nil {
		return fmt.Errorf("client: post alert: %w", err)
	}
	return nil
}

// APIError is returned for any non-2xx Controller response, carrying the
// HTTP status so callers can react to specific codes — the heartbeat sender
// re-registers on a 404, for instance.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("controller returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("controller returned %d", e.StatusCode)
}

// IsNotFound reports whether err wraps an APIError with a 404 status.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = *bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return nil
}
