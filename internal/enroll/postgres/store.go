// Package postgres provides a PostgreSQL-backed implementation of the
// enrollment store.
//
// Encodings are stored in a pgvector column so the trusted set can later be
// queried by distance directly in SQL if the deployment grows beyond a
// handful of enrolled faces. The pgvector extension must be available in the
// target database; [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/aegisd/aegis/internal/enroll"
	"github.com/aegisd/aegis/pkg/provider/vision"
)

var _ enroll.Store = (*Store)(nil)

const ddlTrustedFaces = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS trusted_faces (
    id           TEXT         PRIMARY KEY,
    name         TEXT         NOT NULL,
    encoding     vector(%d)   NOT NULL,
    enrolled_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_trusted_faces_name
    ON trusted_faces (name);
`

// Migrate creates or ensures the trusted_faces table and the vector extension
// exist. It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := fmt.Sprintf(ddlTrustedFaces, vision.EncodingDim)
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("enroll migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed [enroll.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("enroll store: parse dsn: %w", err)
	}

	// Vector columns scan into and insert from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("enroll store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("enroll store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Save implements [enroll.Store]. A face with the same ID is completely
// replaced.
func (s *Store) Save(ctx context.Context, face enroll.Face) error {
	const q = `
		INSERT INTO trusted_faces (id, name, encoding, enrolled_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    name        = EXCLUDED.name,
		    encoding    = EXCLUDED.encoding,
		    enrolled_at = EXCLUDED.enrolled_at`

	vec := pgvector.NewVector(face.Encoding)
	_, err := s.pool.Exec(ctx, q, face.ID, face.Name, vec, face.EnrolledAt)
	if err != nil {
		return fmt.Errorf("enroll store: save: %w", err)
	}
	return nil
}

// List implements [enroll.Store]. Faces are returned oldest first.
func (s *Store) List(ctx context.Context) ([]enroll.Face, error) {
	const q = `
		SELECT id, name, encoding, enrolled_at
		FROM   trusted_faces
		ORDER  BY enrolled_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("enroll store: list: %w", err)
	}

	faces, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (enroll.Face, error) {
		var (
			f   enroll.Face
			vec pgvector.Vector
		)
		if err := row.Scan(&f.ID, &f.Name, &vec, &f.EnrolledAt); err != nil {
			return enroll.Face{}, err
		}
		f.Encoding = vision.Encoding(vec.Slice())
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("enroll store: scan: %w", err)
	}
	return faces, nil
}

// Delete implements [enroll.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM trusted_faces WHERE id = $1`, id); err != nil {
		return fmt.Errorf("enroll store: delete: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("enroll store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
