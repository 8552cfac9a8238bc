// Package openai implements embed.Embedder over the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
)

// modelDimensions maps known embedding models to their vector widths.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const defaultDimensions = 1536

// Embedder calls the OpenAI embeddings endpoint (or any API-compatible
// service via an endpoint override). Safe for concurrent use.
type Embedder struct {
	client     *goopenai.Client
	model      string
	dimensions int
}

// New creates an OpenAI embedder from config. Dimensions default from the
// model name when the config leaves them at zero.
func New(cfg *config.EmbedderConfig) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errs.New(errs.ErrKindConfig, "openai embedder requires an API key (OPENAI_API_KEY)")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	dims := cfg.Dimensions
	if dims == 0 {
		if known, ok := modelDimensions[cfg.Model]; ok {
			dims = known
		} else {
			dims = defaultDimensions
		}
	}

	return &Embedder{
		client:     goopenai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: dims,
	}, nil
}

func (e *Embedder) Name() string    { return "openai" }
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed requests embeddings for texts in one batch call.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: texts,
		Model: goopenai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, mapError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, errs.Newf(errs.ErrKindUnavailable,
			"embedding response count mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Ping verifies the provider accepts requests by embedding a single probe
// text.
func (e *Embedder) Ping(ctx context.Context) error {
	_, err := e.Embed(ctx, []string{"ping"})
	return err
}

// mapError classifies provider errors: context problems are timeouts,
// everything else is a terminal unavailability for this call.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, "embedding request timed out", err)
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return errs.Wrap(errs.ErrKindUnavailable, "embedding API error", err)
	}
	return errs.Wrap(errs.ErrKindUnavailable, "embedding request failed", err)
}
