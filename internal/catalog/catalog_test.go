package catalog

import (
	"context"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/logger"
	"github.com/dhaniverse/contrag/internal/source"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard})
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Source.SampleLimit = 25
	return cfg
}

// fakeDocSource is a document source backed by fixture records. It does
// not implement ConstraintIntrospector, so the catalog must fall back to
// sampled inference.
type fakeDocSource struct {
	data map[string][]source.Record
}

func (f *fakeDocSource) Name() string               { return "fake-doc" }
func (f *fakeDocSource) Kind() source.Kind          { return source.KindDocument }
func (f *fakeDocSource) Ping(context.Context) error { return nil }
func (f *fakeDocSource) Close() error               { return nil }

func (f *fakeDocSource) ListEntityTypes(context.Context) ([]string, error) {
	var names []string
	for name := range f.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeDocSource) SampleInstances(_ context.Context, entityType string, limit int) ([]source.Record, error) {
	recs := f.data[entityType]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (f *fakeDocSource) FetchByID(_ context.Context, entityType, idField string, id any) (source.Record, error) {
	for _, rec := range f.data[entityType] {
		if source.ValueString(rec[idField]) == source.ValueString(id) {
			return rec, nil
		}
	}
	return nil, errs.Newf(errs.ErrKindNotFound, "%s %v not found", entityType, id)
}

func (f *fakeDocSource) FetchByForeignKey(_ context.Context, entityType, field string, value any, limit int) ([]source.Record, error) {
	var out []source.Record
	for _, rec := range f.data[entityType] {
		if source.ValueString(rec[field]) == source.ValueString(value) {
			out = append(out, rec)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// filteringDocSource also supports filtered sampling and records the last
// filter it was asked to apply.
type filteringDocSource struct {
	fakeDocSource
	lastFilter map[string]any
}

func (f *filteringDocSource) SampleInstancesFiltered(ctx context.Context, entityType string, filter map[string]any, limit int) ([]source.Record, error) {
	f.lastFilter = filter
	var out []source.Record
recs:
	for _, rec := range f.data[entityType] {
		for k, want := range filter {
			if source.ValueString(rec[k]) != source.ValueString(want) {
				continue recs
			}
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeRelationalSource reports declared constraints, exercising the exact
// derivation path.
type fakeRelationalSource struct {
	fakeDocSource
	constraints *source.ConstraintSet
}

func (f *fakeRelationalSource) Kind() source.Kind { return source.KindRelational }

func (f *fakeRelationalSource) IntrospectConstraints(context.Context) (*source.ConstraintSet, error) {
	return f.constraints, nil
}

func relationshipTo(s *EntitySchema, target string) (Relationship, bool) {
	for _, rel := range s.Relationships {
		if rel.TargetEntity == target {
			return rel, true
		}
	}
	return Relationship{}, false
}

func TestCatalog_FromConstraints(t *testing.T) {
	src := &fakeRelationalSource{
		constraints: &source.ConstraintSet{
			Tables: []source.TableConstraints{
				{
					Name: "users",
					Columns: []source.Column{
						{Name: "id", DataType: "int4"},
						{Name: "email", DataType: "text", Nullable: true},
						{Name: "plan_id", DataType: "int4", Nullable: true},
					},
					PrimaryKey:  []string{"id"},
					ForeignKeys: []source.ForeignKey{{Column: "plan_id", RefTable: "plans", RefColumn: "id"}},
				},
				{
					Name: "plans",
					Columns: []source.Column{
						{Name: "id", DataType: "int4"},
						{Name: "name", DataType: "varchar"},
					},
					PrimaryKey: []string{"id"},
				},
			},
		},
	}

	cat := New(src, testConfig(), testLogger())
	users, err := cat.Schema(context.Background(), "users")
	require.NoError(t, err)

	assert.Equal(t, "id", users.PrimaryKey())

	planID, ok := users.Field("plan_id")
	require.True(t, ok)
	assert.Equal(t, TypeReference, planID.Type)
	assert.True(t, planID.IsForeignKey)
	assert.Equal(t, "plans", planID.ReferencedEntity)
	assert.Equal(t, "id", planID.ReferencedField)

	rel, ok := relationshipTo(users, "plans")
	require.True(t, ok)
	assert.Equal(t, ManyToOne, rel.Kind)
	assert.Equal(t, "plan_id", rel.LocalKey)
	assert.Equal(t, "id", rel.ForeignKey)

	plans, err := cat.Schema(context.Background(), "plans")
	require.NoError(t, err)
	reverse, ok := relationshipTo(plans, "users")
	require.True(t, ok)
	assert.Equal(t, OneToMany, reverse.Kind)
	assert.Equal(t, "id", reverse.LocalKey)
	assert.Equal(t, "plan_id", reverse.ForeignKey)
}

func TestCatalog_UnknownEntityType(t *testing.T) {
	src := &fakeDocSource{data: map[string][]source.Record{
		"users": {{"id": "u1"}},
	}}
	cat := New(src, testConfig(), testLogger())

	_, err := cat.Schema(context.Background(), "ghosts")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestCatalog_EmptySourceYieldsEmptyCatalog(t *testing.T) {
	src := &fakeDocSource{data: map[string][]source.Record{}}
	cat := New(src, testConfig(), testLogger())

	schemas, err := cat.Schemas(context.Background())
	require.NoError(t, err)
	assert.Empty(t, schemas)
}

func TestCatalog_MasterOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.MasterEntities = []config.MasterEntity{
		{
			Name:       "users",
			PrimaryKey: "user_key",
			Relationships: []config.RelationshipRule{
				{Kind: "one_to_many", TargetEntity: "orders", LocalKey: "user_key", ForeignKey: "buyer"},
			},
			TimeSeriesField: "created_at",
		},
	}

	src := &fakeDocSource{data: map[string][]source.Record{
		"users": {
			{"user_key": "u1", "email": "a@x.com", "plan_id": "p1"},
		},
		"plans":  {{"id": "p1"}},
		"orders": {{"id": "o1", "buyer": "u1"}},
	}}

	cat := New(src, cfg, testLogger())
	users, err := cat.Schema(context.Background(), "users")
	require.NoError(t, err)

	assert.Equal(t, "user_key", users.PrimaryKey())

	// The explicit relationship list fully replaces inferred edges, so the
	// plan_id name-heuristic edge must be gone.
	require.Len(t, users.Relationships, 1)
	assert.Equal(t, OneToMany, users.Relationships[0].Kind)
	assert.Equal(t, "orders", users.Relationships[0].TargetEntity)
	assert.Equal(t, "buyer", users.Relationships[0].ForeignKey)

	require.NotNil(t, users.TimeSeries)
	assert.True(t, users.TimeSeries.Enabled)
	assert.Equal(t, "created_at", users.TimeSeries.Field)
}

func TestInfer_FieldNameHeuristic(t *testing.T) {
	src := &fakeDocSource{data: map[string][]source.Record{
		"users": {
			{"id": "u1", "email": "a@x.com"},
			{"id": "u2", "email": "b@x.com"},
		},
		"orders": {
			{"id": "o1", "user_id": "u1", "total": float64(10)},
			{"id": "o2", "user_id": "u2", "total": float64(20)},
		},
	}}

	cat := New(src, testConfig(), testLogger())
	orders, err := cat.Schema(context.Background(), "orders")
	require.NoError(t, err)

	userID, ok := orders.Field("user_id")
	require.True(t, ok)
	assert.Equal(t, TypeReference, userID.Type)
	assert.True(t, userID.IsForeignKey)
	assert.Equal(t, "users", userID.ReferencedEntity)

	rel, ok := relationshipTo(orders, "users")
	require.True(t, ok)
	assert.Equal(t, ManyToOne, rel.Kind)

	users, err := cat.Schema(context.Background(), "users")
	require.NoError(t, err)
	reverse, ok := relationshipTo(users, "orders")
	require.True(t, ok)
	assert.Equal(t, OneToMany, reverse.Kind)
	assert.Equal(t, "user_id", reverse.ForeignKey)
}

func TestInfer_ValueMembershipHeuristic(t *testing.T) {
	// "owner" carries no naming hint; its values match the users primary
	// keys and nothing else, so the edge is unambiguous.
	src := &fakeDocSource{data: map[string][]source.Record{
		"users": {
			{"id": "u1"},
			{"id": "u2"},
		},
		"devices": {
			{"id": "d1", "owner": "u1"},
			{"id": "d2", "owner": "u2"},
		},
	}}

	cat := New(src, testConfig(), testLogger())
	devices, err := cat.Schema(context.Background(), "devices")
	require.NoError(t, err)

	rel, ok := relationshipTo(devices, "users")
	require.True(t, ok)
	assert.Equal(t, ManyToOne, rel.Kind)
	assert.Equal(t, "owner", rel.LocalKey)
}

func TestInfer_AmbiguousValueMatchIsDropped(t *testing.T) {
	// "ref" values appear in the primary keys of two other entity types,
	// so the candidate is ambiguous and must be dropped, not guessed.
	src := &fakeDocSource{data: map[string][]source.Record{
		"users":  {{"id": "x1"}},
		"groups": {{"id": "x1"}},
		"events": {{"id": "e1", "ref": "x1"}},
	}}

	cat := New(src, testConfig(), testLogger())
	events, err := cat.Schema(context.Background(), "events")
	require.NoError(t, err)

	assert.Empty(t, events.Relationships)
	ref, ok := events.Field("ref")
	require.True(t, ok)
	assert.Equal(t, TypeString, ref.Type)
}

func TestInfer_ArrayOfReferenceIDs(t *testing.T) {
	src := &fakeDocSource{data: map[string][]source.Record{
		"users": {
			{"id": "u1", "order_ids": []any{"o1", "o2"}},
		},
		"orders": {
			{"id": "o1"},
			{"id": "o2"},
		},
	}}

	cat := New(src, testConfig(), testLogger())
	users, err := cat.Schema(context.Background(), "users")
	require.NoError(t, err)

	rel, ok := relationshipTo(users, "orders")
	require.True(t, ok)
	assert.Equal(t, OneToMany, rel.Kind)
	assert.Equal(t, "order_ids", rel.LocalKey)
	assert.Equal(t, "id", rel.ForeignKey)
}

func TestInfer_ConflictingTypesBecomeMixed(t *testing.T) {
	src := &fakeDocSource{data: map[string][]source.Record{
		"flags": {
			{"id": "f1", "value": "active"},
			{"id": "f2", "value": "active"},
			{"id": "f3", "value": float64(42)},
		},
	}}

	cat := New(src, testConfig(), testLogger())
	flags, err := cat.Schema(context.Background(), "flags")
	require.NoError(t, err)

	value, ok := flags.Field("value")
	require.True(t, ok)
	assert.Equal(t, TypeMixed, value.Type)
	assert.Empty(t, flags.Relationships)
}

func TestInfer_DateAndNullability(t *testing.T) {
	src := &fakeDocSource{data: map[string][]source.Record{
		"events": {
			{"id": "e1", "created_at": "2026-03-14T09:00:00Z", "note": "first"},
			{"id": "e2", "created_at": "2026-03-15T10:00:00Z", "note": nil},
			{"id": "e3", "created_at": "2026-03-16T11:00:00Z"},
		},
	}}

	cat := New(src, testConfig(), testLogger())
	events, err := cat.Schema(context.Background(), "events")
	require.NoError(t, err)

	createdAt, ok := events.Field("created_at")
	require.True(t, ok)
	assert.Equal(t, TypeDate, createdAt.Type)
	assert.False(t, createdAt.Nullable)

	note, ok := events.Field("note")
	require.True(t, ok)
	assert.True(t, note.Nullable)
}

func TestInfer_UnresolvableReferenceStaysScalar(t *testing.T) {
	// warehouse_id names an entity type the source does not contain, and
	// its values match no primary keys either.
	src := &fakeDocSource{data: map[string][]source.Record{
		"users":  {{"id": "u1"}},
		"orders": {{"id": "o1", "warehouse_id": "w9"}},
	}}

	cat := New(src, testConfig(), testLogger())
	orders, err := cat.Schema(context.Background(), "orders")
	require.NoError(t, err)

	assert.Empty(t, orders.Relationships)
	wh, ok := orders.Field("warehouse_id")
	require.True(t, ok)
	assert.Equal(t, TypeString, wh.Type)
	assert.False(t, wh.IsForeignKey)
}

func TestInfer_SampleFilterApplied(t *testing.T) {
	cfg := testConfig()
	cfg.MasterEntities = []config.MasterEntity{
		{Name: "users", PrimaryKey: "id", SampleFilter: map[string]any{"tenant": "acme"}},
	}

	src := &filteringDocSource{fakeDocSource: fakeDocSource{data: map[string][]source.Record{
		"users": {
			{"id": "u1", "tenant": "acme"},
			{"id": "u2", "tenant": "other"},
		},
	}}}

	cat := New(src, cfg, testLogger())
	_, err := cat.Schemas(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"tenant": "acme"}, src.lastFilter)
}

func TestCatalog_Refresh(t *testing.T) {
	src := &fakeDocSource{data: map[string][]source.Record{
		"users": {{"id": "u1"}},
	}}
	cat := New(src, testConfig(), testLogger())

	schemas, err := cat.Schemas(context.Background())
	require.NoError(t, err)
	require.Len(t, schemas, 1)

	src.data["orders"] = []source.Record{{"id": "o1"}}
	require.NoError(t, cat.Refresh(context.Background()))

	schemas, err = cat.Schemas(context.Background())
	require.NoError(t, err)
	assert.Len(t, schemas, 2)
}
