package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// modelDimensions maps known remote model names onto their vector widths.
var modelDimensions = map[string]int{
	"text-embedding-3-small":       1536,
	"text-embedding-3-large":       3072,
	"text-embedding-ada-002":       1536,
	"amazon.titan-embed-text-v2:0": 1024,
}

// Remote calls an LLM gateway speaking the OpenAI embeddings wire format.
type Remote struct {
	apiKey   string
	model    string
	endpoint string
	region   string
	client   *http.Client
	logger   *zap.Logger

	mu   sync.Mutex
	dims int
}

// RemoteOption configures the remote driver.
type RemoteOption func(*Remote)

// WithEndpoint sets the gateway base URL (default OpenAI's API).
func WithEndpoint(endpoint string) RemoteOption {
	return func(r *Remote) { r.endpoint = endpoint }
}

// WithRegion records the gateway region hint forwarded on each request.
func WithRegion(region string) RemoteOption {
	return func(r *Remote) { r.region = region }
}

// WithDimensions overrides the assumed vector width until the backend
// reports its actual one.
func WithDimensions(dims int) RemoteOption {
	return func(r *Remote) { r.dims = dims }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// NewRemote creates a remote embeddings driver for the given model.
func NewRemote(apiKey, model string, logger *zap.Logger, opts ...RemoteOption) *Remote {
	dims, ok := modelDimensions[model]
	if !ok {
		dims = 1536
	}
	r := &Remote{
		apiKey:   apiKey,
		model:    model,
		endpoint: "https://api.openai.com/v1/embeddings",
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
		dims:     dims,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dimensions returns the current vector width. The first successful Embed
// corrects it if the backend disagrees.
func (r *Remote) Dimensions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dims
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed requests vectors for a batch of texts and reorders the response by
// index so output position i corresponds to texts[i].
func (r *Remote) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Input: texts, Model: r.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if r.region != "" {
		req.Header.Set("X-Region", r.region)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings API returned %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embeddings API error: %s (%s)", result.Error.Message, result.Error.Type)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d texts", len(result.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings API returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	if len(vectors) > 0 && len(vectors[0]) > 0 {
		r.correctDimensions(len(vectors[0]))
	}
	return vectors, nil
}

// correctDimensions lets the backend's observed width win over the
// configured one.
func (r *Remote) correctDimensions(actual int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actual != r.dims {
		r.logger.Warn("embedding dimensions corrected from backend response",
			zap.Int("configured", r.dims), zap.Int("actual", actual))
		r.dims = actual
	}
}
