// Package pipeline ties the stages together: schema catalog → entity graph
// → context chunks → embeddings → vector store. It owns the namespace
// convention and the build/query lifecycle.
package pipeline

import (
	"context"
	"time"

	"github.com/dhaniverse/contrag/internal/catalog"
	"github.com/dhaniverse/contrag/internal/chunker"
	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/embed"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/graph"
	"github.com/dhaniverse/contrag/internal/logger"
	"github.com/dhaniverse/contrag/internal/source"
	"github.com/dhaniverse/contrag/internal/vector"
)

// Namespace returns the vector store namespace for one entity instance,
// "<entityType>:<id>".
func Namespace(entityType, id string) string {
	return entityType + ":" + id
}

// BuildResult summarizes one completed build.
type BuildResult struct {
	Namespace   string        `json:"namespace"`
	EntityType  string        `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	ChunkCount  int           `json:"chunk_count"`
	Related     []string      `json:"related_entity_types,omitempty"`
	Duration    time.Duration `json:"-"`
	CompletedAt time.Time     `json:"completed_at"`
}

// QueryMatch is one ranked retrieval hit.
type QueryMatch struct {
	Content     string     `json:"content"`
	Score       float32    `json:"score"`
	VectorID    string     `json:"vector_id"`
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	ChunkIndex  int        `json:"chunk_index"`
	TotalChunks int        `json:"total_chunks"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Pipeline is the build/query facade over a data source, an embedder and a
// vector store. It is safe for concurrent use.
type Pipeline struct {
	cfg      *config.Config
	src      source.DataSource
	catalog  *catalog.Catalog
	builder  *graph.Builder
	chunker  *chunker.Chunker
	embedder embed.Embedder
	store    vector.Store
	log      *logger.Logger
}

// New wires a pipeline from its parts. Chunking configuration is validated
// here, so a bad chunk size or overlap fails construction instead of the
// first build.
func New(cfg *config.Config, src source.DataSource, embedder embed.Embedder, store vector.Store, log *logger.Logger) (*Pipeline, error) {
	ck, err := chunker.New(cfg.Chunking)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(src, cfg, log)
	return &Pipeline{
		cfg:      cfg,
		src:      src,
		catalog:  cat,
		builder:  graph.NewBuilder(src, cat, cfg, log),
		chunker:  ck,
		embedder: embedder,
		store:    store,
		log:      log,
	}, nil
}

// Catalog exposes the schema catalog for callers that report schemas.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.catalog }

// Store exposes the vector store for callers that report namespaces.
func (p *Pipeline) Store() vector.Store { return p.store }

// Build materializes the entity graph rooted at (entityType, id), chunks
// and embeds it, and replaces the instance's namespace with the result.
//
// A failed build never leaves a namespace behind: the old namespace is
// dropped only once new chunks are ready, and a storage failure midway
// deletes the namespace again rather than leaving partial vectors.
func (p *Pipeline) Build(ctx context.Context, entityType, id string) (*BuildResult, error) {
	started := time.Now()
	ns := Namespace(entityType, id)
	log := p.log.With().Str("namespace", ns).Logger()

	node, err := p.builder.Build(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	chunks, err := p.chunker.Chunk(node)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(chunks) {
		return nil, errs.Newf(errs.ErrKindUnavailable,
			"embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	vectors := make([]vector.Vector, len(chunks))
	for i, c := range chunks {
		vectors[i] = vector.Vector{
			ID:        vector.ID(c.EntityType, c.EntityID, c.ChunkIndex),
			Embedding: embeddings[i],
			Text:      c.Content,
			Meta: vector.Metadata{
				EntityType:         c.EntityType,
				EntityID:           c.EntityID,
				ChunkIndex:         c.ChunkIndex,
				TotalChunks:        c.TotalChunks,
				RelatedEntityTypes: c.RelatedEntityTypes,
				Timestamp:          c.Timestamp,
			},
		}
	}

	if err := p.store.Delete(ctx, ns); err != nil {
		return nil, err
	}
	if err := p.store.Store(ctx, ns, vectors); err != nil {
		// Drop whatever landed so the namespace never holds a partial build.
		if delErr := p.store.Delete(ctx, ns); delErr != nil {
			log.ErrorWith("failed to clean up partial namespace", delErr, nil)
		}
		return nil, err
	}

	res := &BuildResult{
		Namespace:   ns,
		EntityType:  entityType,
		EntityID:    id,
		ChunkCount:  len(chunks),
		Related:     node.RelatedEntityTypes(),
		Duration:    time.Since(started),
		CompletedAt: time.Now().UTC(),
	}
	log.With().Int("chunks", res.ChunkCount).Logger().
		Info("namespace built")
	return res, nil
}

// Rebuild is Build preceded by an explicit namespace delete, so a root
// whose graph shrank does not keep stale chunks.
func (p *Pipeline) Rebuild(ctx context.Context, entityType, id string) (*BuildResult, error) {
	if err := p.store.Delete(ctx, Namespace(entityType, id)); err != nil {
		return nil, err
	}
	return p.Build(ctx, entityType, id)
}

// Query embeds text and searches the instance's namespace. Querying a
// namespace that was never built returns a not-found error, which callers
// must keep distinct from an empty result set.
func (p *Pipeline) Query(ctx context.Context, entityType, id, text string, k int) ([]QueryMatch, error) {
	if text == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "query text must not be empty")
	}
	if k <= 0 {
		k = 5
	}

	embeddings, err := p.embedder.Embed(ctx, []string{chunker.Sanitize(text)})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, errs.Newf(errs.ErrKindUnavailable,
			"embedder returned %d vectors for one query", len(embeddings))
	}

	results, err := p.store.Search(ctx, Namespace(entityType, id), embeddings[0], k)
	if err != nil {
		return nil, err
	}

	matches := make([]QueryMatch, len(results))
	for i, r := range results {
		matches[i] = QueryMatch{
			Content:     r.Text,
			Score:       r.Score,
			VectorID:    r.VectorID,
			EntityType:  r.Meta.EntityType,
			EntityID:    r.Meta.EntityID,
			ChunkIndex:  r.Meta.ChunkIndex,
			TotalChunks: r.Meta.TotalChunks,
			Timestamp:   r.Meta.Timestamp,
		}
	}
	return matches, nil
}

// Delete removes the instance's namespace. Deleting an absent namespace
// is a no-op.
func (p *Pipeline) Delete(ctx context.Context, entityType, id string) error {
	return p.store.Delete(ctx, Namespace(entityType, id))
}

// Ping verifies the data source and the vector store are both reachable.
func (p *Pipeline) Ping(ctx context.Context) error {
	if err := p.src.Ping(ctx); err != nil {
		return err
	}
	return p.store.Ping(ctx)
}

// ConnectionReport describes the reachability of one pipeline backend.
type ConnectionReport struct {
	Component string `json:"component"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}

// TestConnections pings every backend and reports per-component latency.
// It does not stop at the first failure, so a health check can show which
// backend is down.
func (p *Pipeline) TestConnections(ctx context.Context) []ConnectionReport {
	reports := []ConnectionReport{
		probe(ctx, "source:"+p.src.Name(), p.src.Ping),
		probe(ctx, "vector_store", p.store.Ping),
	}
	if pinger, ok := p.embedder.(interface {
		Ping(ctx context.Context) error
	}); ok {
		reports = append(reports, probe(ctx, "embedder:"+p.embedder.Name(), pinger.Ping))
	}
	return reports
}

func probe(ctx context.Context, component string, ping func(context.Context) error) ConnectionReport {
	started := time.Now()
	report := ConnectionReport{Component: component, OK: true}
	if err := ping(ctx); err != nil {
		report.OK = false
		report.Detail = err.Error()
	}
	report.LatencyMS = time.Since(started).Milliseconds()
	return report
}

// Close releases the pipeline's backends.
func (p *Pipeline) Close() error {
	srcErr := p.src.Close()
	storeErr := p.store.Close()
	if srcErr != nil {
		return srcErr
	}
	return storeErr
}
