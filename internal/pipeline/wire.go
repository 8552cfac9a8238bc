package pipeline

import (
	"context"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/embed"
	"github.com/dhaniverse/contrag/internal/embed/openai"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/logger"
	"github.com/dhaniverse/contrag/internal/source"
	"github.com/dhaniverse/contrag/internal/source/minio"
	"github.com/dhaniverse/contrag/internal/source/mysql"
	"github.com/dhaniverse/contrag/internal/source/postgres"
	"github.com/dhaniverse/contrag/internal/vector"
	"github.com/dhaniverse/contrag/internal/vector/memory"
	"github.com/dhaniverse/contrag/internal/vector/pgvector"
)

// Open constructs a pipeline entirely from configuration: data source,
// embedder and vector store are chosen by their configured drivers. The
// returned pipeline owns the opened backends; Close releases them.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, err := OpenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := OpenEmbedder(cfg)
	if err != nil {
		src.Close()
		return nil, err
	}

	store, err := OpenStore(ctx, cfg, embedder.Dimensions())
	if err != nil {
		src.Close()
		return nil, err
	}

	p, err := New(cfg, src, embedder, store, log)
	if err != nil {
		src.Close()
		store.Close()
		return nil, err
	}
	return p, nil
}

// OpenSource opens the configured data source driver.
func OpenSource(ctx context.Context, cfg *config.Config) (source.DataSource, error) {
	switch cfg.Source.Driver {
	case "postgres":
		return postgres.New(ctx, &cfg.Source)
	case "mysql":
		return mysql.New(ctx, &cfg.Source)
	case "minio":
		return minio.New(ctx, &cfg.Source)
	default:
		return nil, errs.Newf(errs.ErrKindConfig, "unknown source driver %q", cfg.Source.Driver)
	}
}

// OpenEmbedder opens the configured embedder, wrapped in the embedding
// cache when a cache size is configured.
func OpenEmbedder(cfg *config.Config) (embed.Embedder, error) {
	var (
		embedder embed.Embedder
		err      error
	)
	switch cfg.Embedder.Provider {
	case "openai", "":
		embedder, err = openai.New(&cfg.Embedder)
	default:
		return nil, errs.Newf(errs.ErrKindConfig, "unknown embedder provider %q", cfg.Embedder.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Embedder.CacheSize > 0 {
		embedder = embed.NewCached(embedder, cfg.Embedder.CacheSize)
	}
	return embedder, nil
}

// OpenStore opens the configured vector store. dimensions must match the
// embedder feeding the store.
func OpenStore(ctx context.Context, cfg *config.Config, dimensions int) (vector.Store, error) {
	switch cfg.VectorStore.Driver {
	case "memory", "":
		return memory.New(), nil
	case "pgvector":
		return pgvector.New(ctx, &cfg.VectorStore, dimensions)
	default:
		return nil, errs.Newf(errs.ErrKindConfig, "unknown vector store driver %q", cfg.VectorStore.Driver)
	}
}
