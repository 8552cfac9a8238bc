// Package source defines the data source contract for contrag.
//
// All backends (Postgres, MySQL, MinIO documents) implement DataSource.
// Layers above this package talk only to these interfaces — they never
// import a driver package directly. Optional capabilities (exact key
// constraints, filtered sampling) are separate interfaces checked
// explicitly by callers.
package source

import (
	"context"
	"fmt"
	"strconv"
)

// Kind classifies a data source family. It decides how the schema
// catalog derives relationships: exact key constraints for relational
// sources, sampled heuristics for document sources.
type Kind int

const (
	KindRelational Kind = iota
	KindDocument
)

func (k Kind) String() string {
	if k == KindDocument {
		return "document"
	}
	return "relational"
}

// Record is one entity instance as a flat column/field → value snapshot.
type Record map[string]any

// DataSource is the central contract for reading entity data.
type DataSource interface {
	// Name identifies the driver ("postgres", "mysql", "minio").
	Name() string

	// Kind reports the source family.
	Kind() Kind

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the source.
	Close() error

	// ListEntityTypes returns the names of all entity types visible in
	// the source (tables, or document prefixes).
	ListEntityTypes(ctx context.Context) ([]string, error)

	// SampleInstances returns up to limit instances of the given entity
	// type, in backend order.
	SampleInstances(ctx context.Context, entityType string, limit int) ([]Record, error)

	// FetchByID returns the single instance whose idField equals id.
	// Returns an errs.ErrKindNotFound error when no instance matches.
	FetchByID(ctx context.Context, entityType, idField string, id any) (Record, error)

	// FetchByForeignKey returns up to limit instances whose field equals
	// value. For document sources, array-valued fields match when they
	// contain value.
	FetchByForeignKey(ctx context.Context, entityType, field string, value any, limit int) ([]Record, error)
}

// ConstraintIntrospector is implemented by relational drivers that can
// report declared key constraints exactly. The schema catalog prefers
// this over sampled inference whenever it is available.
type ConstraintIntrospector interface {
	IntrospectConstraints(ctx context.Context) (*ConstraintSet, error)
}

// FilteredSampler is implemented by sources that can restrict sampling to
// instances matching a field→value filter (master entity sample filters).
type FilteredSampler interface {
	SampleInstancesFiltered(ctx context.Context, entityType string, filter map[string]any, limit int) ([]Record, error)
}

// ConstraintSet is the declared structure of a relational source.
type ConstraintSet struct {
	Tables []TableConstraints
}

// TableConstraints describes one table's columns and keys.
type TableConstraints struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

// Column describes a single declared column.
type Column struct {
	Name     string
	DataType string // backend type name: text, int4, varchar, datetime, …
	Nullable bool
}

// ForeignKey is one declared referential constraint.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// ValueString renders a record value as its canonical identifier string.
// Drivers return ids in mixed shapes — text, []byte, integers, JSON
// float64 — and graph traversal compares and reuses them as strings.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		// JSON numbers: render integral values without a decimal point.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return ValueString(float64(t))
	default:
		return fmt.Sprint(v)
	}
}
