package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhaniverse/contrag/internal/errs"
)

func TestSelectBuilder_Postgres(t *testing.T) {
	sql, args, err := Select("users", DialectPostgres).
		Columns("id", "email").
		Where("plan_id", "=", "p1").
		Limit(10).
		Build()

	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "email" FROM "users" WHERE "plan_id" = $1 LIMIT $2`, sql)
	assert.Equal(t, []any{"p1", 10}, args)
}

func TestSelectBuilder_MySQL(t *testing.T) {
	sql, args, err := Select("users", DialectMySQL).
		Where("plan_id", "=", "p1").
		Where("active", "!=", false).
		Build()

	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `users` WHERE `plan_id` = ? AND `active` != ?", sql)
	assert.Equal(t, []any{"p1", false}, args)
}

func TestSelectBuilder_NoConditions(t *testing.T) {
	sql, args, err := Select("plans", DialectPostgres).Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "plans"`, sql)
	assert.Empty(t, args)
}

func TestSelectBuilder_RejectsUnknownOperator(t *testing.T) {
	for _, op := range []string{"LIKE", "IN", "; DROP TABLE users", ""} {
		_, _, err := Select("users", DialectPostgres).
			Where("email", op, "x").
			Build()
		require.Error(t, err, "operator %q must be rejected", op)
		assert.True(t, errs.IsInvalidInput(err))
	}
}

func TestSelectBuilder_QuotesIdentifiers(t *testing.T) {
	sql, _, err := Select(`us"ers`, DialectPostgres).Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "us""ers"`, sql)

	sql, _, err = Select("us`ers", DialectMySQL).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `us``ers`", sql)
}

func TestValueString(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"nil", nil, ""},
		{"string", "u1", "u1"},
		{"bytes", []byte("u2"), "u2"},
		{"int64", int64(42), "42"},
		{"int", 7, "7"},
		{"integral float", float64(1001), "1001"},
		{"fractional float", 10.5, "10.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValueString(tt.v))
		})
	}
}
