// Package catalog introspects a data source and produces normalized entity
// schemas: fields, primary keys, and relationships to other entity types.
//
// Relational sources report declared key constraints, so their
// relationships are exact. Document sources are sampled and relationships
// are inferred heuristically; unresolved candidates are dropped rather
// than guessed.
package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/logger"
	"github.com/dhaniverse/contrag/internal/source"
)

// Catalog builds and caches entity schemas for one data source. It is safe
// for concurrent use; the schema set is built once on first access and can
// be rebuilt with Refresh.
type Catalog struct {
	src source.DataSource
	cfg *config.Config
	log *logger.Logger

	mu      sync.RWMutex
	schemas map[string]*EntitySchema
	names   []string // deterministic schema order
}

// New creates a Catalog over the given source. Nothing is introspected
// until the first Schemas/Schema call.
func New(src source.DataSource, cfg *config.Config, log *logger.Logger) *Catalog {
	return &Catalog{
		src: src,
		cfg: cfg,
		log: log.With().Str("component", "catalog").Logger(),
	}
}

// Schemas returns all entity schemas, introspecting the source on first
// call. An empty source yields an empty (non-error) catalog.
func (c *Catalog) Schemas(ctx context.Context) ([]*EntitySchema, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*EntitySchema, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.schemas[name])
	}
	return out, nil
}

// Schema returns the schema for one entity type.
func (c *Catalog) Schema(ctx context.Context, entityType string) (*EntitySchema, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.schemas[entityType]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "unknown entity type %q", entityType)
	}
	return s, nil
}

// Refresh drops the cached catalog and re-introspects the source.
func (c *Catalog) Refresh(ctx context.Context) error {
	schemas, names, err := c.build(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.schemas = schemas
	c.names = names
	c.mu.Unlock()
	return nil
}

func (c *Catalog) ensure(ctx context.Context) error {
	c.mu.RLock()
	built := c.schemas != nil
	c.mu.RUnlock()
	if built {
		return nil
	}
	return c.Refresh(ctx)
}

// build derives the full schema set: exact constraints when the source can
// report them, sampled inference otherwise, then master-entity overrides.
func (c *Catalog) build(ctx context.Context) (map[string]*EntitySchema, []string, error) {
	var (
		schemas map[string]*EntitySchema
		names   []string
		err     error
	)

	if ci, ok := c.src.(source.ConstraintIntrospector); ok {
		schemas, names, err = c.fromConstraints(ctx, ci)
	} else {
		schemas, names, err = c.infer(ctx)
	}
	if err != nil {
		return nil, nil, err
	}

	c.applyOverrides(schemas)

	c.log.With().Int("entity_types", len(names)).Logger().
		Debugf("catalog built from %s source", c.src.Kind())
	return schemas, names, nil
}

// fromConstraints maps declared tables, columns and keys onto entity
// schemas. Every foreign key becomes a many-to-one edge on the declaring
// table and the reverse one-to-many edge on the referenced table.
func (c *Catalog) fromConstraints(ctx context.Context, ci source.ConstraintIntrospector) (map[string]*EntitySchema, []string, error) {
	set, err := ci.IntrospectConstraints(ctx)
	if err != nil {
		return nil, nil, err
	}

	schemas := make(map[string]*EntitySchema, len(set.Tables))
	names := make([]string, 0, len(set.Tables))

	for _, tc := range set.Tables {
		s := &EntitySchema{Name: tc.Name}

		pkSet := make(map[string]bool, len(tc.PrimaryKey))
		for _, pk := range tc.PrimaryKey {
			pkSet[pk] = true
		}
		fkByColumn := make(map[string]source.ForeignKey, len(tc.ForeignKeys))
		for _, fk := range tc.ForeignKeys {
			fkByColumn[fk.Column] = fk
		}

		for _, col := range tc.Columns {
			f := Field{
				Name:         col.Name,
				Type:         sqlFieldType(col.DataType),
				Nullable:     col.Nullable,
				IsPrimaryKey: pkSet[col.Name],
			}
			if fk, ok := fkByColumn[col.Name]; ok {
				f.IsForeignKey = true
				f.Type = TypeReference
				f.ReferencedEntity = fk.RefTable
				f.ReferencedField = fk.RefColumn
			}
			s.Fields = append(s.Fields, f)
		}

		schemas[tc.Name] = s
		names = append(names, tc.Name)
	}

	// Relationship edges, both directions.
	for _, tc := range set.Tables {
		local := schemas[tc.Name]
		for _, fk := range tc.ForeignKeys {
			target, known := schemas[fk.RefTable]
			if !known {
				continue // FK into a table outside the introspected schema
			}

			local.Relationships = append(local.Relationships, Relationship{
				Kind:         ManyToOne,
				TargetEntity: fk.RefTable,
				LocalKey:     fk.Column,
				ForeignKey:   fk.RefColumn,
			})
			target.Relationships = append(target.Relationships, Relationship{
				Kind:         OneToMany,
				TargetEntity: tc.Name,
				LocalKey:     fk.RefColumn,
				ForeignKey:   fk.Column,
			})
		}
	}

	return schemas, names, nil
}

// applyOverrides applies master-entity configuration: an explicit primary
// key, a full replacement of the relationship list, and a time-series
// field.
func (c *Catalog) applyOverrides(schemas map[string]*EntitySchema) {
	for _, me := range c.cfg.MasterEntities {
		s, ok := schemas[me.Name]
		if !ok {
			c.log.Warnf("master entity %q not present in data source, override skipped", me.Name)
			continue
		}

		if me.PrimaryKey != "" {
			found := false
			for i := range s.Fields {
				s.Fields[i].IsPrimaryKey = s.Fields[i].Name == me.PrimaryKey
				found = found || s.Fields[i].IsPrimaryKey
			}
			if !found {
				s.Fields = append(s.Fields, Field{
					Name:         me.PrimaryKey,
					Type:         TypeString,
					IsPrimaryKey: true,
				})
			}
		}

		if len(me.Relationships) > 0 {
			// Explicit relationships fully replace inferred ones.
			rels := make([]Relationship, 0, len(me.Relationships))
			for _, rule := range me.Relationships {
				kind, ok := ParseRelKind(rule.Kind)
				if !ok {
					c.log.Warnf("master entity %q: unknown relationship kind %q, edge skipped", me.Name, rule.Kind)
					continue
				}
				rels = append(rels, Relationship{
					Kind:         kind,
					TargetEntity: rule.TargetEntity,
					LocalKey:     rule.LocalKey,
					ForeignKey:   rule.ForeignKey,
				})
			}
			s.Relationships = rels
		}

		if me.TimeSeriesField != "" {
			s.TimeSeries = &TimeSeries{Enabled: true, Field: me.TimeSeriesField}
		}
	}
}

// sqlFieldType maps a backend column type name onto the inference
// vocabulary.
func sqlFieldType(dataType string) FieldType {
	dt := strings.ToLower(dataType)
	switch {
	case strings.HasPrefix(dt, "_"), strings.Contains(dt, "array"):
		return TypeArray
	case strings.Contains(dt, "json"):
		return TypeObject
	case strings.Contains(dt, "bool"):
		return TypeBoolean
	case strings.Contains(dt, "date"), strings.Contains(dt, "time"):
		return TypeDate
	case strings.Contains(dt, "int"), strings.Contains(dt, "serial"),
		strings.Contains(dt, "numeric"), strings.Contains(dt, "decimal"),
		strings.Contains(dt, "real"), strings.Contains(dt, "double"),
		strings.Contains(dt, "float"):
		return TypeNumber
	case strings.Contains(dt, "char"), strings.Contains(dt, "text"),
		strings.Contains(dt, "uuid"), strings.Contains(dt, "enum"):
		return TypeString
	default:
		return TypeMixed
	}
}
