// Package mysql provides a MySQL implementation of source.DataSource using
// database/sql. Like the Postgres driver it implements
// source.ConstraintIntrospector for exact relationship derivation.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/go-sql-driver/mysql"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/source"
)

// Driver is a MySQL data source backed by a database/sql pool.
type Driver struct {
	db     *sql.DB
	schema string
}

// New opens and verifies a MySQL connection pool. The schema is the
// database name the source reads from.
func New(ctx context.Context, cfg *config.SourceConfig) (*Driver, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid mysql DSN", err)
	}

	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime.Std())
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime.Std())

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, mapError(err, "ping failed")
	}

	schema := cfg.Schema
	if schema == "" {
		// Fall back to the database named in the DSN.
		if mc, perr := mysql.ParseDSN(cfg.DSN); perr == nil {
			schema = mc.DBName
		}
	}
	if schema == "" {
		db.Close()
		return nil, errs.New(errs.ErrKindConfig, "mysql source needs a schema (database) name")
	}

	return &Driver{db: db, schema: schema}, nil
}

// --- source.DataSource implementation ---

func (d *Driver) Name() string      { return "mysql" }
func (d *Driver) Kind() source.Kind { return source.KindRelational }

func (d *Driver) Ping(ctx context.Context) error {
	return mapError(d.db.PingContext(ctx), "ping failed")
}

func (d *Driver) Close() error {
	return d.db.Close()
}

// ListEntityTypes returns all base table names in the configured database.
func (d *Driver) ListEntityTypes(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ?
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	return d.fetchStringList(ctx, q, "failed to list tables", d.schema)
}

// SampleInstances returns up to limit rows of the given table.
func (d *Driver) SampleInstances(ctx context.Context, entityType string, limit int) ([]source.Record, error) {
	return d.selectRecords(ctx, source.Select(entityType, source.DialectMySQL).Limit(limit))
}

// SampleInstancesFiltered implements source.FilteredSampler.
func (d *Driver) SampleInstancesFiltered(ctx context.Context, entityType string, filter map[string]any, limit int) ([]source.Record, error) {
	b := source.Select(entityType, source.DialectMySQL)
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
		source.Select(entityType, source.DialectMySQL).Where(idField, "=", id).Limit(1))
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
		source.Select(entityType, source.DialectMySQL).Where(field, "=", value).Limit(limit))
}

func (d *Driver) selectRecords(ctx context.Context, b *source.SelectBuilder) ([]source.Record, error) {
	q, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return source.ScanRecords(&sqlRows{rows: rows})
}

// --- source.ConstraintIntrospector implementation ---

// IntrospectConstraints reads columns, primary keys, and foreign keys for
// every table in the database via information_schema.
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
	const colQuery = `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = ?
		  AND table_name   = ?
		ORDER BY ordinal_position`

	rows, err := d.db.QueryContext(ctx, colQuery, d.schema, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	tc := &source.TableConstraints{Name: table}
	for rows.Next() {
		var c source.Column
		var isPK bool
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &isPK); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		tc.Columns = append(tc.Columns, c)
		if isPK {
			tc.PrimaryKey = append(tc.PrimaryKey, c.Name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}

	fks, err := d.fetchForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	tc.ForeignKeys = fks
	return tc, nil
}

func (d *Driver) fetchForeignKeys(ctx context.Context, table string) ([]source.ForeignKey, error) {
	const q = `
		SELECT column_name,
		       referenced_table_name,
		       referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
		  AND table_name   = ?
		  AND referenced_table_name IS NOT NULL`

	rows, err := d.db.QueryContext(ctx, q, d.schema, table)
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

func (d *Driver) fetchStringList(ctx context.Context, q, errMsg string, args ...any) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
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

// --- database/sql type wrappers ---

// sqlRows wraps *sql.Rows to satisfy source.Rows.
type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool                 { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error     { return r.rows.Scan(dest...) }
func (r *sqlRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *sqlRows) Close()                     { r.rows.Close() }
func (r *sqlRows) Err() error                 { return r.rows.Err() }

// --- error mapping ---

// mapError translates go-sql-driver native errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("%s: %s", msg, myErr.Message), err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
