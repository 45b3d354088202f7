package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores values in a Postgres table, for deployments where
// several client processes share one signed-in identity (kiosks, test rigs).
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresBackend(ctx context.Context, dsn, schema string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	table := "secure_kv"
	if schema != "" {
		table = pgx.Identifier{schema, "secure_kv"}.Sanitize()
	}
	b := &PostgresBackend{pool: pool, table: table}
	if err := b.migrate(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context, schema string) error {
	if schema != "" {
		if _, err := b.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
			return fmt.Errorf("postgres create schema: %w", err)
		}
	}
	_, err := b.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+b.table+` (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("postgres create table: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.pool.QueryRow(ctx, `SELECT value FROM `+b.table+` WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return value, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.pool.Exec(ctx, `INSERT INTO `+b.table+` (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM `+b.table+` WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Close() {
	b.pool.Close()
}
