package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the key space in a single <schema>.kv table.
//
// The pgx pool is owned by the caller; Close does not close it.
// Schema and table identifiers are quoted via pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "unisession").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("kv: empty schema")
		}
		if !pgIdentRe.MatchString(schema) || len(schema) > 63 {
			return fmt.Errorf("kv: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore. Call Migrate before first use.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "unisession"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("kv: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "kv"}.Sanitize()
}

// Migrate creates the schema and table if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;
CREATE TABLE IF NOT EXISTS %s (
  k TEXT PRIMARY KEY,
  v BYTEA NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_kv_key_len CHECK (char_length(k) BETWEEN 1 AND 512)
);`, pgx.Identifier{s.schema}.Sanitize(), s.table())

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("kv: migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, errEmptyKey
	}

	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT v FROM `+s.table()+` WHERE k = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: postgres get: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	if !validKey(key) {
		return errEmptyKey
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (k, v, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, updated_at = now()`,
		key, clone(value),
	)
	if err != nil {
		return fmt.Errorf("kv: postgres put: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if !validKey(key) {
		return false, errEmptyKey
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (k, v) VALUES ($1, $2) ON CONFLICT (k) DO NOTHING`,
		key, clone(value),
	)
	if err != nil {
		return false, fmt.Errorf("kv: postgres put if absent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE k = ANY($1)`, keys); err != nil {
		return fmt.Errorf("kv: postgres delete: %w", err)
	}
	return nil
}

// Close is a no-op: the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
