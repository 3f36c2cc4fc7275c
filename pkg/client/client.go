package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a toolgate registry over its JSON HTTP API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithBearerToken attaches a bearer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// New creates a Client for the registry at baseURL.
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

// APIError is a non-2xx response from the registry.
type APIError struct {
	StatusCode int
	Detail     string `json:"detail"`
	ErrorCode  string `json:"error_code"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry returned %d: %s", e.StatusCode, e.Detail)
}

// do executes one request. Exactly one of form/jsonBody may be non-nil; out
// is JSON-decoded when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, form url.Values, jsonBody, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var bodyReader io.Reader
	contentType := ""
	switch {
	case form != nil:
		bodyReader = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case jsonBody != nil:
		b, err := json.Marshal(jsonBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Server is one registered tool server as returned by the API.
type Server struct {
	Path                string          `json:"path"`
	Name                string          `json:"server_name"`
	Description         string          `json:"description,omitempty"`
	ProxyURL            string          `json:"proxy_url,omitempty"`
	Tags                []string        `json:"tags,omitempty"`
	NumTools            int             `json:"num_tools"`
	AuthType            string          `json:"auth_type,omitempty"`
	SupportedTransports []string        `json:"supported_transports,omitempty"`
	NumStars            float64         `json:"num_stars"`
	IsEnabled           bool            `json:"is_enabled"`
	LastScanTime        string          `json:"last_scan_time,omitempty"`
	IsSafe              *bool           `json:"is_safe,omitempty"`
	ToolList            json.RawMessage `json:"tool_list,omitempty"`
}

// RegisterServerRequest is the payload for RegisterServer.
type RegisterServerRequest struct {
	Name                string
	Path                string
	ProxyURL            string
	Description         string
	Tags                []string
	AuthType            string
	SupportedTransports []string
	ToolListJSON        string
	Overwrite           bool
}

// ListServers returns all registered servers.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var out struct {
		Servers []Server `json:"servers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/servers", nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// RegisterServer registers a tool server. New servers start disabled.
func (c *Client) RegisterServer(ctx context.Context, req RegisterServerRequest) (*Server, error) {
	form := url.Values{}
	form.Set("name", req.Name)
	form.Set("path", req.Path)
	form.Set("proxy_url", req.ProxyURL)
	form.Set("description", req.Description)
	form.Set("tags", strings.Join(req.Tags, ","))
	form.Set("auth_type", req.AuthType)
	for _, t := range req.SupportedTransports {
		form.Add("supported_transports", t)
	}
	if req.ToolListJSON != "" {
		form.Set("tool_list_json", req.ToolListJSON)
	}
	form.Set("overwrite", strconv.FormatBool(req.Overwrite))

	var out struct {
		Server *Server `json:"server"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/servers/register", nil, form, nil, &out); err != nil {
		return nil, err
	}
	return out.Server, nil
}

// ToggleServer enables or disables a server and returns the new state.
func (c *Client) ToggleServer(ctx context.Context, path string, enabled bool) (bool, error) {
	form := url.Values{}
	form.Set("path", path)
	form.Set("enabled", strconv.FormatBool(enabled))

	var out struct {
		IsEnabled bool `json:"is_enabled"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/servers/toggle", nil, form, nil, &out); err != nil {
		return false, err
	}
	return out.IsEnabled, nil
}

// RateServer submits a 1..5 rating and returns the new average.
func (c *Client) RateServer(ctx context.Context, path string, rating int) (float64, error) {
	form := url.Values{}
	form.Set("path", path)
	form.Set("rating", strconv.Itoa(rating))

	var out struct {
		Average float64 `json:"average"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/servers/rate", nil, form, nil, &out); err != nil {
		return 0, err
	}
	return out.Average, nil
}

// ServerScan returns the latest security scan for a server path.
func (c *Client) ServerScan(ctx context.Context, path string) (json.RawMessage, error) {
	var out json.RawMessage
	q := url.Values{"path": {path}}
	if err := c.do(ctx, http.MethodGet, "/api/servers/security-scan", q, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RescanServer runs a synchronous security scan (admin only).
func (c *Client) RescanServer(ctx context.Context, path string) (json.RawMessage, error) {
	var out json.RawMessage
	form := url.Values{"path": {path}}
	if err := c.do(ctx, http.MethodPost, "/api/servers/rescan", nil, form, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Agent is one registered A2A agent as returned by the API.
type Agent struct {
	Path        string          `json:"path"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url"`
	Version     string          `json:"version,omitempty"`
	Skills      json.RawMessage `json:"skills,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Visibility  string          `json:"visibility,omitempty"`
	TrustLevel  string          `json:"trust_level,omitempty"`
	NumStars    float64         `json:"num_stars"`
	IsEnabled   bool            `json:"is_enabled"`
}

// ListAgents returns the agents visible to the caller.
func (c *Client) ListAgents(ctx context.Context, query string, enabledOnly bool, visibility string) ([]Agent, error) {
	q := url.Values{}
	if query != "" {
		q.Set("query", query)
	}
	if enabledOnly {
		q.Set("enabled_only", "true")
	}
	if visibility != "" {
		q.Set("visibility", visibility)
	}

	var out struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/agents", q, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// RegisterAgent registers an A2A agent from its card document (A2A
// camelCase JSON). New agents start disabled.
func (c *Client) RegisterAgent(ctx context.Context, card any) (*Agent, error) {
	var out struct {
		Agent *Agent `json:"agent"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/agents/register", nil, nil, card, &out); err != nil {
		return nil, err
	}
	return out.Agent, nil
}

// GetAgent fetches one agent by its registry path.
func (c *Client) GetAgent(ctx context.Context, path string) (*Agent, error) {
	var out Agent
	if err := c.do(ctx, http.MethodGet, "/api/agents"+path, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleAgent enables or disables an agent and returns the new state.
func (c *Client) ToggleAgent(ctx context.Context, path string, enabled bool) (bool, error) {
	q := url.Values{"enabled": {strconv.FormatBool(enabled)}}
	var out struct {
		IsEnabled bool `json:"is_enabled"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/agents"+path+"/toggle", q, nil, nil, &out); err != nil {
		return false, err
	}
	return out.IsEnabled, nil
}

// RateAgent submits a 1..5 rating and returns the new average.
func (c *Client) RateAgent(ctx context.Context, path string, rating int) (float64, error) {
	var out struct {
		Average float64 `json:"average"`
	}
	body := map[string]int{"rating": rating}
	if err := c.do(ctx, http.MethodPost, "/api/agents"+path+"/rate", nil, nil, body, &out); err != nil {
		return 0, err
	}
	return out.Average, nil
}

// DiscoveredAgent is one skill-based discovery hit.
type DiscoveredAgent struct {
	Agent         Agent    `json:"agent"`
	MatchedSkills []string `json:"matched_skills"`
	Relevance     float64  `json:"relevance_score"`
}

// Discover finds enabled agents matching the required skills.
func (c *Client) Discover(ctx context.Context, skills, tags []string, maxResults int) ([]DiscoveredAgent, error) {
	body := map[string]any{"skills": skills, "max_results": maxResults}
	if len(tags) > 0 {
		body["tags"] = tags
	}
	var out struct {
		Agents []DiscoveredAgent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/agents/discover", nil, nil, body, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// SearchResults is the mixed three-view response of the hybrid search.
type SearchResults struct {
	Servers json.RawMessage `json:"servers"`
	Tools   json.RawMessage `json:"tools"`
	Agents  json.RawMessage `json:"agents"`
}

// Search runs the hybrid semantic search.
func (c *Client) Search(ctx context.Context, query string, kinds []string, maxResults int) (*SearchResults, error) {
	body := map[string]any{"query": query, "max_results": maxResults}
	if len(kinds) > 0 {
		body["kinds"] = kinds
	}
	var out SearchResults
	if err := c.do(ctx, http.MethodPost, "/api/search", nil, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CatalogPage is one page of the public catalog.
type CatalogPage struct {
	Servers    []json.RawMessage `json:"servers"`
	NextCursor string            `json:"next_cursor"`
}

// CatalogServers lists the public catalog (no auth required).
func (c *Client) CatalogServers(ctx context.Context, cursor string, limit int) (*CatalogPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out CatalogPage
	if err := c.do(ctx, http.MethodGet, "/v0.1/servers", q, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
