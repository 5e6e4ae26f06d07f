package brokerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/meshnode"
)

// AdminClient calls the admin HTTP API of a node
type AdminClient struct {
	config     AdminConfig
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewAdminClient creates a new admin API client
func NewAdminClient(config AdminConfig) (*AdminClient, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	if config.TLSConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: config.TLSConfig}
	}

	return &AdminClient{
		config:     config,
		httpClient: httpClient,
		token:      config.Token,
		baseURL:    baseURL,
	}, nil
}

// GetHealth returns the health status of the node
func (c *AdminClient) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health: %w", err)
	}
	return &resp, nil
}

// ListSessions returns the peer sessions of the node
func (c *AdminClient) ListSessions(ctx context.Context) (*AdminSessionsResponse, error) {
	var resp AdminSessionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/sessions", &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return &resp, nil
}

// ListClients returns local and mirrored clients
func (c *AdminClient) ListClients(ctx context.Context) (*AdminClientsResponse, error) {
	var resp AdminClientsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/clients", &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return &resp, nil
}

// ListSubscriptions returns every subscription row
func (c *AdminClient) ListSubscriptions(ctx context.Context) (*AdminSubscriptionsResponse, error) {
	var resp AdminSubscriptionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/subscriptions", &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &resp, nil
}

// GetStats returns node statistics
func (c *AdminClient) GetStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// Dump returns the full registry snapshot of the node
func (c *AdminClient) Dump(ctx context.Context) (*meshnode.Snapshot, error) {
	var resp meshnode.Snapshot
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/dump", &resp, true); err != nil {
		return nil, fmt.Errorf("failed to dump registry: %w", err)
	}
	return &resp, nil
}

// SetToken sets the admin bearer token
func (c *AdminClient) SetToken(token string) {
	c.token = token
}

// doRequest performs a GET-style request with optional authentication
func (c *AdminClient) doRequest(ctx context.Context, method, path string, respBody interface{}, requireAuth bool) error {
	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if requireAuth {
		if c.token == "" {
			return fmt.Errorf("admin token required")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(bodyBytes))
		}
		return fmt.Errorf("API error (%d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
