package catalog

import (
	"strings"
	"time"
)

// FieldType is the closed vocabulary of inferred field types. TypeMixed is
// the explicit fallback when observations conflict across sampled
// instances.
type FieldType int

const (
	// TypeUnknown is the pre-observation state. It never appears in a
	// finished schema — every cataloged field has at least one observation.
	TypeUnknown FieldType = iota
	TypeString
	TypeNumber
	TypeBoolean
	TypeDate
	TypeArray
	TypeObject
	TypeReference
	TypeMixed
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	case TypeReference:
		return "reference"
	case TypeMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Merge combines two observed field types. Conflicting observations
// resolve to TypeMixed; TypeUnknown is the identity.
func Merge(a, b FieldType) FieldType {
	switch {
	case a == b:
		return a
	case a == TypeUnknown:
		return b
	case b == TypeUnknown:
		return a
	default:
		return TypeMixed
	}
}

// DetectType classifies one observed value. nil carries no type
// information — it only marks nullability — so it maps to TypeUnknown.
func DetectType(v any) FieldType {
	switch t := v.(type) {
	case nil:
		return TypeUnknown
	case bool:
		return TypeBoolean
	case string:
		if _, err := time.Parse(time.RFC3339, t); err == nil {
			return TypeDate
		}
		return TypeString
	case []byte:
		return DetectType(string(t))
	case int, int32, int64, float32, float64:
		return TypeNumber
	case time.Time:
		return TypeDate
	case []any:
		return TypeArray
	case map[string]any:
		return TypeObject
	default:
		return TypeMixed
	}
}

// Field is one column or document field of an entity type.
type Field struct {
	Name             string
	Type             FieldType
	Nullable         bool
	IsPrimaryKey     bool
	IsForeignKey     bool
	ReferencedEntity string
	ReferencedField  string
}

// RelKind is the cardinality of a relationship edge.
type RelKind int

const (
	OneToOne RelKind = iota
	OneToMany
	ManyToOne
	ManyToMany
)

func (k RelKind) String() string {
	switch k {
	case OneToOne:
		return "one_to_one"
	case OneToMany:
		return "one_to_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "many_to_one"
	}
}

// ParseRelKind converts a configuration string into a RelKind.
func ParseRelKind(s string) (RelKind, bool) {
	switch strings.ToLower(s) {
	case "one_to_one":
		return OneToOne, true
	case "one_to_many":
		return OneToMany, true
	case "many_to_one":
		return ManyToOne, true
	case "many_to_many":
		return ManyToMany, true
	default:
		return ManyToOne, false
	}
}

// IsToMany reports whether the edge resolves to multiple instances.
func (k RelKind) IsToMany() bool {
	return k == OneToMany || k == ManyToMany
}

// Relationship is a directed edge in the schema graph.
//
// LocalKey is the field on this entity holding the linking value.
// ForeignKey is the field on the target entity it refers to (for to-one
// edges) or the field on the target holding this entity's key (for
// reverse to-many edges).
type Relationship struct {
	Kind         RelKind
	TargetEntity string
	LocalKey     string
	ForeignKey   string
}

// TimeSeries marks the field carrying an instance's event timestamp,
// used as chunk provenance.
type TimeSeries struct {
	Enabled bool
	Field   string
}

// EntitySchema is the normalized description of one entity type.
type EntitySchema struct {
	Name          string
	Fields        []Field
	Relationships []Relationship
	TimeSeries    *TimeSeries
}

// PrimaryKey returns the entity's primary key field name, defaulting to
// "id" when no field is marked.
func (s *EntitySchema) PrimaryKey() string {
	for _, f := range s.Fields {
		if f.IsPrimaryKey {
			return f.Name
		}
	}
	return "id"
}

// Field returns the named field, if present.
func (s *EntitySchema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether the schema declares the named field.
func (s *EntitySchema) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}
