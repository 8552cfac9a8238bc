// Package pgvector implements vector.Store on Postgres with the pgvector
// extension. Vectors live in a single table partitioned logically by
// namespace, and search ranks by cosine distance (the <=> operator).
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/vector"
)

// Store implements vector.Store backed by a Postgres table with a
// pgvector embedding column.
type Store struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

// New connects to Postgres, enables the pgvector extension and ensures
// the vectors table exists. The embedding column is created with the
// configured dimension count.
func New(ctx context.Context, cfg *config.VectorConfig, dimensions int) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errs.New(errs.ErrKindConfig, "pgvector store requires a dsn")
	}
	if dimensions <= 0 {
		return nil, errs.Newf(errs.ErrKindConfig, "pgvector store requires positive dimensions, got %d", dimensions)
	}
	table := cfg.Table
	if table == "" {
		table = "contrag_vectors"
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "invalid pgvector dsn", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create pgvector pool", err)
	}

	s := &Store{pool: pool, table: table, dimensions: dimensions}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return mapError("failed to enable pgvector extension", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		content TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		chunk_index INT NOT NULL,
		total_chunks INT NOT NULL,
		related TEXT[],
		ts TIMESTAMPTZ,
		embedding vector(%d) NOT NULL
	)`, s.table, s.dimensions)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return mapError("failed to create vectors table", err)
	}

	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_namespace_idx ON %s (namespace)", s.table, s.table)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return mapError("failed to create namespace index", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return mapError("pgvector ping failed", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Store(ctx context.Context, namespace string, vectors []vector.Vector) error {
	if namespace == "" {
		return errs.New(errs.ErrKindInvalidInput, "namespace must not be empty")
	}
	if len(vectors) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	stmt := fmt.Sprintf(`INSERT INTO %s
		(id, namespace, content, entity_type, entity_id, chunk_index, total_chunks, related, ts, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			related = EXCLUDED.related,
			ts = EXCLUDED.ts,
			embedding = EXCLUDED.embedding`, s.table)
	for _, v := range vectors {
		if len(v.Embedding) != s.dimensions {
			return errs.Newf(errs.ErrKindInvalidInput,
				"vector %s has %d dimensions, store expects %d", v.ID, len(v.Embedding), s.dimensions)
		}
		batch.Queue(stmt,
			v.ID, namespace, v.Text,
			v.Meta.EntityType, v.Meta.EntityID,
			v.Meta.ChunkIndex, v.Meta.TotalChunks,
			v.Meta.RelatedEntityTypes, v.Meta.Timestamp,
			pgv.NewVector(v.Embedding))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range vectors {
		if _, err := results.Exec(); err != nil {
			return mapError("failed to store vectors", err)
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, namespace string, query []float32, k int) ([]vector.SearchResult, error) {
	if k <= 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "k must be positive, got %d", k)
	}
	if len(query) != s.dimensions {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"query has %d dimensions, store expects %d", len(query), s.dimensions)
	}

	exists, err := s.namespaceExists(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.Newf(errs.ErrKindNotFound, "namespace %q does not exist", namespace)
	}

	stmt := fmt.Sprintf(`SELECT id, content, entity_type, entity_id, chunk_index, total_chunks, related, ts,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE namespace = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, s.table)

	rows, err := s.pool.Query(ctx, stmt, pgv.NewVector(query), namespace, k)
	if err != nil {
		return nil, mapError("similarity search failed", err)
	}
	defer rows.Close()

	var results []vector.SearchResult
	for rows.Next() {
		var (
			r       vector.SearchResult
			related []string
			ts      *time.Time
			score   float64
		)
		if err := rows.Scan(&r.VectorID, &r.Text,
			&r.Meta.EntityType, &r.Meta.EntityID,
			&r.Meta.ChunkIndex, &r.Meta.TotalChunks,
			&related, &ts, &score); err != nil {
			return nil, mapError("failed to scan search result", err)
		}
		r.Meta.RelatedEntityTypes = related
		r.Meta.Timestamp = ts
		r.Score = float32(score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("similarity search failed", err)
	}
	return results, nil
}

func (s *Store) Delete(ctx context.Context, namespace string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1", s.table)
	if _, err := s.pool.Exec(ctx, stmt, namespace); err != nil {
		return mapError("failed to delete namespace", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	stmt := fmt.Sprintf("SELECT count(*) FROM %s WHERE namespace = $1", s.table)
	var n int
	if err := s.pool.QueryRow(ctx, stmt, namespace).Scan(&n); err != nil {
		return 0, mapError("failed to count namespace vectors", err)
	}
	return n, nil
}

func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	stmt := fmt.Sprintf("SELECT DISTINCT namespace FROM %s ORDER BY namespace", s.table)
	rows, err := s.pool.Query(ctx, stmt)
	if err != nil {
		return nil, mapError("failed to list namespaces", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError("failed to scan namespace", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("failed to list namespaces", err)
	}
	return names, nil
}

func (s *Store) namespaceExists(ctx context.Context, namespace string) (bool, error) {
	stmt := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE namespace = $1)", s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, stmt, namespace).Scan(&exists); err != nil {
		return false, mapError("failed to check namespace", err)
	}
	return exists, nil
}

func mapError(msg string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
		}
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindUnavailable, msg, err)
}
