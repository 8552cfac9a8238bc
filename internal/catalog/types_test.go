package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		a, b FieldType
		want FieldType
	}{
		{"equal types", TypeString, TypeString, TypeString},
		{"unknown is identity left", TypeUnknown, TypeNumber, TypeNumber},
		{"unknown is identity right", TypeDate, TypeUnknown, TypeDate},
		{"string vs number", TypeString, TypeNumber, TypeMixed},
		{"boolean vs string", TypeBoolean, TypeString, TypeMixed},
		{"array vs object", TypeArray, TypeObject, TypeMixed},
		{"mixed absorbs", TypeMixed, TypeString, TypeMixed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.a, tt.b))
		})
	}
}

// Conflicting observations of one field across instances must land on
// mixed, never silently on the last value seen.
func TestMerge_ConflictingObservations(t *testing.T) {
	got := TypeUnknown
	for _, v := range []any{"active", "active", float64(42)} {
		got = Merge(got, DetectType(v))
	}
	assert.Equal(t, TypeMixed, got)
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want FieldType
	}{
		{"nil", nil, TypeUnknown},
		{"bool", true, TypeBoolean},
		{"plain string", "hello", TypeString},
		{"rfc3339 string", "2026-03-14T09:00:00Z", TypeDate},
		{"int", 7, TypeNumber},
		{"float64", 7.5, TypeNumber},
		{"time.Time", time.Now(), TypeDate},
		{"array", []any{1, 2}, TypeArray},
		{"object", map[string]any{"a": 1}, TypeObject},
		{"unclassifiable", struct{}{}, TypeMixed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectType(tt.v))
		})
	}
}

func TestEntitySchema_PrimaryKey(t *testing.T) {
	s := &EntitySchema{
		Name: "users",
		Fields: []Field{
			{Name: "email", Type: TypeString},
			{Name: "user_id", Type: TypeString, IsPrimaryKey: true},
		},
	}
	assert.Equal(t, "user_id", s.PrimaryKey())

	unmarked := &EntitySchema{Name: "logs", Fields: []Field{{Name: "msg"}}}
	assert.Equal(t, "id", unmarked.PrimaryKey())
}

func TestParseRelKind(t *testing.T) {
	for _, kind := range []RelKind{OneToOne, OneToMany, ManyToOne, ManyToMany} {
		parsed, ok := ParseRelKind(kind.String())
		assert.True(t, ok)
		assert.Equal(t, kind, parsed)
	}

	_, ok := ParseRelKind("sideways")
	assert.False(t, ok)
}

func TestRelKind_IsToMany(t *testing.T) {
	assert.True(t, OneToMany.IsToMany())
	assert.True(t, ManyToMany.IsToMany())
	assert.False(t, ManyToOne.IsToMany())
	assert.False(t, OneToOne.IsToMany())
}
