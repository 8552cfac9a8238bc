// Package postgres provides a PostgreSQL implementation of source.DataSource
// backed by pgxpool. It also implements source.ConstraintIntrospector, so
// the schema catalog derives relationships from declared key constraints
// instead of sampling.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/source"
)

// Driver is a PostgreSQL data source. It is safe for concurrent use by
// multiple goroutines.
type Driver struct {
	pool   *pgxpool.Pool
	schema string
}

// New connects to PostgreSQL using the provided config and returns a
// Driver. It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *config.SourceConfig) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid postgres DSN", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime.Std()
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime.Std()
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout.Std()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	d := &Driver{pool: pool, schema: schema}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return d, nil
}

// --- source.DataSource implementation ---

func (d *Driver) Name() string      { return "postgres" }
func (d *Driver) Kind() source.Kind { return source.KindRelational }

// Ping verifies the database is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the connection pool.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

// ListEntityTypes returns all user-defined table names in the configured
// schema.
func (d *Driver) ListEntityTypes(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	return d.fetchStringList(ctx, q, "failed to list tables", d.schema)
}

// SampleInstances returns up to limit rows of the given table.
func (d *Driver) SampleInstances(ctx context.Context, entityType string, limit int) ([]source.Record, error) {
	return d.selectRecords(ctx, source.Select(entityType, source.DialectPostgres).Limit(limit))
}

// SampleInstancesFiltered implements source.FilteredSampler.
// Filter keys are sorted so the generated SQL is deterministic.
func (d *Driver) SampleInstancesFiltered(ctx context.Context, entityType string, filter map[string]any, limit int) ([]source.Record, error) {
	b := source.Select(entityType, source.DialectPostgres)
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b = b.Where(k, "=", filter[k])
	}
	return d.selectRecords(ctx, b.Limit(limit))
}

// FetchByID returns the single row whose idField equals id.
func (d *Driver) FetchByID(ctx context.Context, entityType, idField string, id any) (source.Record, error) {
	recs, err := d.selectRecords(ctx,
		source.Select(entityType, source.DialectPostgres).Where(idField, "=", id).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "%s with %s=%v not found", entityType, idField, id)
	}
	return recs[0], nil
}

// FetchByForeignKey returns up to limit rows whose field equals value.
func (d *Driver) FetchByForeignKey(ctx context.Context, entityType, field string, value any, limit int) ([]source.Record, error) {
	return d.selectRecords(ctx,
		source.Select(entityType, source.DialectPostgres).Where(field, "=", value).Limit(limit))
}

// selectRecords builds, runs, and scans one SELECT.
func (d *Driver) selectRecords(ctx context.Context, b *source.SelectBuilder) ([]source.Record, error) {
	sql, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return source.ScanRecords(&pgxRows{rows: rows})
}

// --- source.ConstraintIntrospector implementation ---

// IntrospectConstraints reads the full declared structure of the schema:
// columns, primary keys, and foreign keys. This is intentionally expensive
// — the catalog caches the result.
func (d *Driver) IntrospectConstraints(ctx context.Context) (*source.ConstraintSet, error) {
	tables, err := d.ListEntityTypes(ctx)
	if err != nil {
		return nil, err
	}

	set := &source.ConstraintSet{}
	for _, table := range tables {
		tc, err := d.introspectTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("introspecting table %q: %w", table, err)
		}
		set.Tables = append(set.Tables, *tc)
	}
	return set, nil
}

func (d *Driver) introspectTable(ctx context.Context, table string) (*source.TableConstraints, error) {
	columns, err := d.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	pks, err := d.fetchPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	fks, err := d.fetchForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	return &source.TableConstraints{
		Name:        table,
		Columns:     columns,
		PrimaryKey:  pks,
		ForeignKeys: fks,
	}, nil
}

func (d *Driver) fetchColumns(ctx context.Context, table string) ([]source.Column, error) {
	const q = `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1
		  AND table_name   = $2
		ORDER BY ordinal_position`

	rows, err := d.pool.Query(ctx, q, d.schema, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []source.Column
	for rows.Next() {
		var c source.Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d *Driver) fetchPrimaryKeys(ctx context.Context, table string) ([]string, error) {
	const q = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema    = $1
		  AND tc.table_name      = $2
		ORDER BY kcu.ordinal_position`

	return d.fetchStringList(ctx, q, "failed to fetch primary keys", d.schema, table)
}

func (d *Driver) fetchForeignKeys(ctx context.Context, table string) ([]source.ForeignKey, error) {
	const q = `
		SELECT kcu.column_name,
		       ccu.table_name  AS ref_table,
		       ccu.column_name AS ref_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema    = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema    = $1
		  AND tc.table_name      = $2`

	rows, err := d.pool.Query(ctx, q, d.schema, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch foreign keys")
	}
	defer rows.Close()

	var fks []source.ForeignKey
	for rows.Next() {
		var fk source.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, mapError(err, "failed to scan foreign key")
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// fetchStringList is a helper for queries that return a single text column.
func (d *Driver) fetchStringList(ctx context.Context, q, errMsg string, args ...any) ([]string, error) {
	rows, err := d.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, errMsg)
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, mapError(err, errMsg)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy source.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Close()                 { r.rows.Close() }
func (r *pgxRows) Err() error             { return r.rows.Err() }

func (r *pgxRows) Columns() ([]string, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, desc := range descs {
		cols[i] = desc.Name
	}
	return cols, nil
}

// --- error mapping ---

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.ErrKindQueryFailed
		// Class 08 — connection errors
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			kind = errs.ErrKindConnectionFailed
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Fallthrough: connection-level errors (TLS, network, auth)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
