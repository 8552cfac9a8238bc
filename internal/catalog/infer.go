package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dhaniverse/contrag/internal/source"
)

// observedValueCap bounds how many raw values per field are retained for
// the reference-shape heuristic.
const observedValueCap = 10

// observation accumulates what sampling saw for one field of one entity
// type.
type observation struct {
	fieldType  FieldType
	sawNull    bool
	seen       int
	values     []any // non-null scalar values, capped
	arrayElems []any // flattened element sample for array fields, capped
}

// infer builds schemas for a document source by sampling instances and
// unioning field observations. Entity types with no sampled instance are
// excluded; a source with nothing to sample yields an empty catalog, not
// an error.
func (c *Catalog) infer(ctx context.Context) (map[string]*EntitySchema, []string, error) {
	types, err := c.src.ListEntityTypes(ctx)
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(types)

	samples := make(map[string][]source.Record)
	var names []string
	for _, t := range types {
		recs, err := c.sample(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		if len(recs) == 0 {
			continue
		}
		samples[t] = recs
		names = append(names, t)
	}

	schemas := make(map[string]*EntitySchema, len(names))
	observations := make(map[string]map[string]*observation, len(names))
	pkValues := make(map[string]map[string]bool, len(names))

	for _, name := range names {
		obs := observe(samples[name])
		observations[name] = obs
		s := &EntitySchema{Name: name}

		pk := c.primaryKeyFor(name, obs)
		fieldNames := sortedKeys(obs)
		for _, fn := range fieldNames {
			o := obs[fn]
			s.Fields = append(s.Fields, Field{
				Name:         fn,
				Type:         o.fieldType,
				Nullable:     o.sawNull || o.seen < len(samples[name]),
				IsPrimaryKey: fn == pk,
			})
		}

		pkValues[name] = make(map[string]bool)
		for _, rec := range samples[name] {
			if v, ok := rec[pk]; ok && v != nil {
				pkValues[name][source.ValueString(v)] = true
			}
		}

		schemas[name] = s
	}

	// Relationship candidates per entity type, in sorted field order so
	// the catalog is idempotent for an unchanged source.
	for _, name := range names {
		s := schemas[name]
		pk := s.PrimaryKey()

		for i := range s.Fields {
			f := &s.Fields[i]
			if f.Name == pk {
				continue
			}

			switch f.Type {
			case TypeArray:
				o := observations[name][f.Name]
				if !allLookLikeReferenceIDs(o.arrayElems) {
					continue
				}
				target, ok := resolveEntityName(arrayFieldBase(f.Name), names)
				if !ok {
					continue // unresolved candidates are dropped, not guessed
				}
				s.Relationships = append(s.Relationships, Relationship{
					Kind:         OneToMany,
					TargetEntity: target,
					LocalKey:     f.Name,
					ForeignKey:   schemas[target].PrimaryKey(),
				})

			case TypeString, TypeNumber:
				o := observations[name][f.Name]
				target, ok := c.resolveReference(f.Name, name, o, names, pkValues)
				if !ok {
					continue
				}
				f.IsForeignKey = true
				f.Type = TypeReference
				f.ReferencedEntity = target
				f.ReferencedField = schemas[target].PrimaryKey()
				s.Relationships = append(s.Relationships, Relationship{
					Kind:         ManyToOne,
					TargetEntity: target,
					LocalKey:     f.Name,
					ForeignKey:   schemas[target].PrimaryKey(),
				})
			}
		}
	}

	// Reverse one-to-many edges mirror every inferred many-to-one, the
	// same shape relational constraint derivation produces.
	for _, name := range names {
		for _, rel := range schemas[name].Relationships {
			if rel.Kind != ManyToOne {
				continue
			}
			target, ok := schemas[rel.TargetEntity]
			if !ok || rel.TargetEntity == name {
				continue
			}
			target.Relationships = append(target.Relationships, Relationship{
				Kind:         OneToMany,
				TargetEntity: name,
				LocalKey:     rel.ForeignKey,
				ForeignKey:   rel.LocalKey,
			})
		}
	}

	return schemas, names, nil
}

// sample fetches instances for inference, honoring a master entity's
// sample filter when the source supports filtered sampling.
func (c *Catalog) sample(ctx context.Context, entityType string) ([]source.Record, error) {
	limit := c.cfg.Source.SampleLimit

	if me, ok := c.cfg.MasterEntity(entityType); ok && len(me.SampleFilter) > 0 {
		if fs, ok := c.src.(source.FilteredSampler); ok {
			return fs.SampleInstancesFiltered(ctx, entityType, me.SampleFilter, limit)
		}
		c.log.Warnf("source %s cannot filter samples, ignoring sample filter for %q", c.src.Name(), entityType)
	}

	return c.src.SampleInstances(ctx, entityType, limit)
}

// observe unions field observations across sampled records.
func observe(recs []source.Record) map[string]*observation {
	obs := make(map[string]*observation)
	for _, rec := range recs {
		for field, value := range rec {
			o, ok := obs[field]
			if !ok {
				o = &observation{}
				obs[field] = o
			}
			o.seen++
			if value == nil {
				o.sawNull = true
				continue
			}
			o.fieldType = Merge(o.fieldType, DetectType(value))

			switch v := value.(type) {
			case []any:
				for _, el := range v {
					if len(o.arrayElems) >= observedValueCap {
						break
					}
					o.arrayElems = append(o.arrayElems, el)
				}
			default:
				if len(o.values) < observedValueCap {
					o.values = append(o.values, value)
				}
			}
		}
	}
	return obs
}

// primaryKeyFor picks the identifier field for an inferred entity type:
// the master override if configured, then "id", then "_id".
func (c *Catalog) primaryKeyFor(entityType string, obs map[string]*observation) string {
	if me, ok := c.cfg.MasterEntity(entityType); ok && me.PrimaryKey != "" {
		return me.PrimaryKey
	}
	if _, ok := obs["id"]; ok {
		return "id"
	}
	if _, ok := obs["_id"]; ok {
		return "_id"
	}
	return "id"
}

// resolveReference decides whether a scalar field is a foreign key and to
// which entity type. The field-name heuristic is tried first; when the
// name says nothing, sampled values are matched against the primary-key
// values of other entity types, and only an unambiguous match counts.
func (c *Catalog) resolveReference(field, owner string, o *observation, names []string, pkValues map[string]map[string]bool) (string, bool) {
	if base, ok := referenceFieldBase(field); ok {
		if target, ok := resolveEntityName(base, names); ok {
			return target, true
		}
	}

	if !allLookLikeReferenceIDs(o.values) || len(o.values) == 0 {
		return "", false
	}

	var matches []string
	for _, candidate := range names {
		if candidate == owner {
			continue
		}
		for _, v := range o.values {
			if pkValues[candidate][source.ValueString(v)] {
				matches = append(matches, candidate)
				break
			}
		}
	}
	if len(matches) == 1 {
		return matches[0], true
	}
	return "", false // zero or ambiguous: dropped
}

// referenceFieldBase strips the "…_id" / "…Id" suffix from a field name.
func referenceFieldBase(field string) (string, bool) {
	switch {
	case strings.HasSuffix(field, "_id") && len(field) > 3:
		return field[:len(field)-3], true
	case strings.HasSuffix(field, "Id") && len(field) > 2:
		return field[:len(field)-2], true
	default:
		return "", false
	}
}

// arrayFieldBase derives the entity-name candidate from an array field
// name ("order_ids" → "order", "orderIds" → "order", "orders" → "orders").
func arrayFieldBase(field string) string {
	switch {
	case strings.HasSuffix(field, "_ids") && len(field) > 4:
		return field[:len(field)-4]
	case strings.HasSuffix(field, "Ids") && len(field) > 3:
		return field[:len(field)-3]
	default:
		return field
	}
}

// resolveEntityName matches a base name against discovered entity types,
// trying the exact form and simple singular/plural variants. An exact
// match wins over plural-form conflicts; anything still ambiguous is
// dropped.
func resolveEntityName(base string, names []string) (string, bool) {
	if base == "" {
		return "", false
	}

	candidates := nameVariants(base)
	var matches []string
	for _, name := range names {
		ln := strings.ToLower(name)
		for _, cand := range candidates {
			if ln == cand {
				matches = append(matches, name)
				break
			}
		}
	}

	switch len(matches) {
	case 0:
		return "", false
	case 1:
		return matches[0], true
	default:
		for _, m := range matches {
			if strings.EqualFold(m, base) {
				return m, true
			}
		}
		return "", false
	}
}

// nameVariants lists the lowercase singular/plural forms tried for a base
// name.
func nameVariants(base string) []string {
	b := strings.ToLower(base)
	variants := []string{b, b + "s", b + "es"}
	if strings.HasSuffix(b, "y") {
		variants = append(variants, b[:len(b)-1]+"ies")
	}
	if strings.HasSuffix(b, "s") {
		variants = append(variants, strings.TrimSuffix(b, "s"))
	}
	if strings.HasSuffix(b, "ies") {
		variants = append(variants, strings.TrimSuffix(b, "ies")+"y")
	}
	return variants
}

// allLookLikeReferenceIDs reports whether every sampled value has the
// shape of a reference id: a short opaque token or a non-negative integer.
func allLookLikeReferenceIDs(values []any) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !looksLikeReferenceID(v) {
			return false
		}
	}
	return true
}

func looksLikeReferenceID(v any) bool {
	switch t := v.(type) {
	case string:
		if t == "" || len(t) > 64 || strings.ContainsAny(t, " \t\n") {
			return false
		}
		// Timestamps are dates, not ids.
		if _, err := time.Parse(time.RFC3339, t); err == nil {
			return false
		}
		return true
	case float64:
		return t >= 0 && t == float64(int64(t))
	case int, int32, int64:
		return true
	default:
		return false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
