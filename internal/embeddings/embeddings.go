// Package embeddings turns text into fixed-dimension vectors for the search
// index. Two backends ship: a deterministic local encoder and a remote
// LLM-gateway driver speaking the OpenAI embeddings wire format.
package embeddings

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Client is the capability surface the search index depends on. Embed must
// be pure: the same texts always produce the same vectors, and inputs are
// never mutated.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
}

// Provider names accepted in configuration.
const (
	ProviderLocal     = "local"
	ProviderRemoteLLM = "remote-llm"
)

// Config selects and parameterizes a backend. APIKey, APIBase, and AWSRegion
// are only honored by the remote backend.
type Config struct {
	Provider        string
	ModelName       string
	ModelDimensions int
	APIKey          string
	APIBase         string
	AWSRegion       string
}

// New builds the configured embeddings client. When the backend's actual
// dimension disagrees with ModelDimensions, the actual dimension wins and
// the mismatch is logged.
func New(cfg Config, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		c := NewLocal(cfg.ModelDimensions)
		if cfg.ModelDimensions > 0 && cfg.ModelDimensions != c.Dimensions() {
			logger.Warn("configured embedding dimensions corrected",
				zap.Int("configured", cfg.ModelDimensions),
				zap.Int("actual", c.Dimensions()))
		}
		return c, nil
	case ProviderRemoteLLM:
		opts := []RemoteOption{}
		if cfg.APIBase != "" {
			opts = append(opts, WithEndpoint(cfg.APIBase))
		}
		if cfg.AWSRegion != "" {
			opts = append(opts, WithRegion(cfg.AWSRegion))
		}
		if cfg.ModelDimensions > 0 {
			opts = append(opts, WithDimensions(cfg.ModelDimensions))
		}
		c := NewRemote(cfg.APIKey, cfg.ModelName, logger, opts...)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}
