// Package graph materializes bounded, cycle-safe entity graphs.
//
// Given a root entity type and identifier, the Builder fetches the
// instance and recursively resolves its relationships (from the schema
// catalog) depth-first, bounded by the configured max depth and per-node
// fan-out limit. The visited set is copied per branch, so sibling branches
// only share their common ancestors' visited state.
package graph

import (
	"context"
	"strings"
	"time"

	"github.com/dhaniverse/contrag/internal/catalog"
	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/logger"
	"github.com/dhaniverse/contrag/internal/source"
)

// Builder constructs entity graphs over one data source and catalog.
// It holds no per-call state and is safe for concurrent Build calls.
type Builder struct {
	src     source.DataSource
	catalog *catalog.Catalog
	cfg     *config.Config
	log     *logger.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(src source.DataSource, cat *catalog.Catalog, cfg *config.Config, log *logger.Logger) *Builder {
	return &Builder{
		src:     src,
		catalog: cat,
		cfg:     cfg,
		log:     log.With().Str("component", "graph").Logger(),
	}
}

// Build materializes the graph rooted at (rootType, rootID).
//
// A missing root (after all fallback identifier lookups) is an
// errs.ErrKindNotFound error. Relationship-branch failures below the root
// are absorbed: the branch is logged and omitted, never propagated.
func (b *Builder) Build(ctx context.Context, rootType, rootID string) (*EntityNode, error) {
	node, err := b.buildByID(ctx, rootType, "", rootID, 0, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if node == nil {
		// Unreachable with an empty path, kept as a guard.
		return nil, errs.Newf(errs.ErrKindNotFound, "%s:%s not found", rootType, rootID)
	}
	return node, nil
}

// buildByID fetches one instance and assembles its node. idField "" means
// "the schema's primary key, then the configured fallback fields".
// A nil, nil return means the node was skipped because (type,id) is
// already on the current root-to-node path.
func (b *Builder) buildByID(ctx context.Context, entityType, idField, id string, depth int, path map[string]bool) (*EntityNode, error) {
	if path[entityType+":"+id] {
		return nil, nil
	}

	schema, err := b.catalog.Schema(ctx, entityType)
	if err != nil {
		return nil, err
	}

	var rec source.Record
	if idField != "" {
		rec, err = b.src.FetchByID(ctx, entityType, idField, id)
	} else {
		rec, err = b.fetchWithFallbacks(ctx, schema, id)
	}
	if err != nil {
		return nil, err
	}

	return b.assemble(ctx, schema, rec, depth, path)
}

// fetchWithFallbacks looks the instance up by the declared primary key,
// then tries the configured fallback identifier fields in order. Only
// fields the schema actually declares are attempted.
func (b *Builder) fetchWithFallbacks(ctx context.Context, schema *catalog.EntitySchema, id string) (source.Record, error) {
	pk := schema.PrimaryKey()

	rec, err := b.src.FetchByID(ctx, schema.Name, pk, id)
	if err == nil {
		return rec, nil
	}
	if !errs.IsNotFound(err) {
		return nil, err
	}

	for _, pattern := range b.cfg.Graph.IDFallbackFields {
		field := strings.ReplaceAll(pattern, "<entity>", strings.ToLower(schema.Name))
		if field == pk || !schema.HasField(field) {
			continue
		}
		rec, err := b.src.FetchByID(ctx, schema.Name, field, id)
		if err == nil {
			return rec, nil
		}
		if !errs.IsNotFound(err) {
			return nil, err
		}
	}

	return nil, errs.Newf(errs.ErrKindNotFound, "%s with id %q not found under any identifier field", schema.Name, id)
}

// assemble builds the node for an already-fetched record and, within the
// depth bound, resolves its relationship branches.
func (b *Builder) assemble(ctx context.Context, schema *catalog.EntitySchema, rec source.Record, depth int, path map[string]bool) (*EntityNode, error) {
	id := source.ValueString(rec[schema.PrimaryKey()])

	node := &EntityNode{
		EntityType:    schema.Name,
		ID:            id,
		Data:          rec,
		Relationships: make(map[string][]*EntityNode),
		Depth:         depth,
		Provenance:    Provenance{FetchedAt: time.Now()},
	}
	if path[node.Key()] {
		// Already on this root-to-node path: skip so no id repeats along
		// any path.
		return nil, nil
	}
	if schema.TimeSeries != nil && schema.TimeSeries.Enabled {
		node.Provenance.Timestamp = parseTimestamp(rec[schema.TimeSeries.Field])
	}

	if depth >= b.cfg.Graph.MaxDepth {
		return node, nil
	}

	// Branch-local visited copy: siblings must not see each other's
	// visited state beyond shared ancestors.
	childPath := make(map[string]bool, len(path)+1)
	for k := range path {
		childPath[k] = true
	}
	childPath[node.Key()] = true

	for _, rel := range schema.Relationships {
		children, err := b.resolveBranch(ctx, node, rel, depth+1, childPath)
		if err != nil {
			// Recoverable by design: the branch is omitted, siblings and
			// the parent are unaffected.
			b.log.WarnWith("dropping relationship branch", err, map[string]any{
				"entity": node.Key(),
				"target": rel.TargetEntity,
				"kind":   rel.Kind.String(),
			})
			continue
		}
		node.addChildren(rel.TargetEntity, children)
	}

	return node, nil
}

// resolveBranch fetches the related instances for one relationship edge.
// The fan-out limit is applied before recursion, so per-node cost stays
// bounded.
func (b *Builder) resolveBranch(ctx context.Context, parent *EntityNode, rel catalog.Relationship, depth int, path map[string]bool) ([]*EntityNode, error) {
	fanout := b.cfg.Graph.FanoutLimit

	switch {
	case !rel.Kind.IsToMany():
		// one_to_one / many_to_one: the local field holds the target key.
		v, ok := parent.Data[rel.LocalKey]
		if !ok || v == nil {
			return nil, nil
		}
		child, err := b.buildByID(ctx, rel.TargetEntity, rel.ForeignKey, source.ValueString(v), depth, path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindBranchFetch, "to-one branch fetch failed", err)
		}
		if child == nil {
			return nil, nil
		}
		return []*EntityNode{child}, nil

	default:
		// one_to_many / many_to_many: either the local field is an array
		// of target ids, or the target declares the foreign key and we do
		// a reverse lookup.
		if ids, ok := parent.Data[rel.LocalKey].([]any); ok {
			return b.resolveIDList(ctx, rel, ids, depth, path)
		}

		v, ok := parent.Data[rel.LocalKey]
		if !ok || v == nil {
			return nil, nil
		}
		recs, err := b.src.FetchByForeignKey(ctx, rel.TargetEntity, rel.ForeignKey, v, fanout)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindBranchFetch, "reverse lookup failed", err)
		}

		schema, err := b.catalog.Schema(ctx, rel.TargetEntity)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindBranchFetch, "unknown branch target", err)
		}

		children := make([]*EntityNode, 0, len(recs))
		for _, rec := range recs {
			child, err := b.assemble(ctx, schema, rec, depth, path)
			if err != nil {
				b.log.WarnWith("dropping child instance", err, map[string]any{
					"entity": parent.Key(),
					"target": rel.TargetEntity,
				})
				continue
			}
			if child != nil {
				children = append(children, child)
			}
		}
		return children, nil
	}
}

// resolveIDList materializes children from an array of reference ids,
// truncated to the fan-out limit before any fetch.
func (b *Builder) resolveIDList(ctx context.Context, rel catalog.Relationship, ids []any, depth int, path map[string]bool) ([]*EntityNode, error) {
	if len(ids) > b.cfg.Graph.FanoutLimit {
		ids = ids[:b.cfg.Graph.FanoutLimit]
	}

	children := make([]*EntityNode, 0, len(ids))
	for _, raw := range ids {
		child, err := b.buildByID(ctx, rel.TargetEntity, rel.ForeignKey, source.ValueString(raw), depth, path)
		if err != nil {
			// One dangling reference does not sink the whole branch.
			b.log.WarnWith("dropping referenced instance", err, map[string]any{
				"target": rel.TargetEntity,
				"id":     source.ValueString(raw),
			})
			continue
		}
		if child != nil {
			children = append(children, child)
		}
	}
	return children, nil
}

// parseTimestamp interprets a time-series field value. Unparseable values
// yield no provenance timestamp rather than an error.
func parseTimestamp(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return &ts
		}
	case int64:
		ts := time.Unix(t, 0).UTC()
		return &ts
	case float64:
		ts := time.Unix(int64(t), 0).UTC()
		return &ts
	}
	return nil
}
