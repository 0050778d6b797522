package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGExecutor is the subset of *pgxpool.Pool the PostgreSQL backend uses.
type PGExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGBackend stores records in a PostgreSQL table:
//
//	CREATE TABLE liveroute_state (
//	    id TEXT PRIMARY KEY,
//	    data JSONB NOT NULL,
//	    expires_at TIMESTAMPTZ,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PGBackend struct {
	db    PGExecutor
	table string
	pool  *pgxpool.Pool
}

// PGOption configures a PGBackend.
type PGOption func(*PGBackend)

// WithTable sets the table name. Default: "liveroute_state".
func WithTable(name string) PGOption {
	return func(b *PGBackend) { b.table = name }
}

// NewPGBackend returns a backend over db.
func NewPGBackend(db PGExecutor, opts ...PGOption) *PGBackend {
	b := &PGBackend{db: db, table: "liveroute_state"}
	for _, opt := range opts {
		opt(b)
	}
	if pool, ok := db.(*pgxpool.Pool); ok {
		b.pool = pool
	}
	return b
}

// NewPGPool opens and pings a pgx pool for databaseURL.
func NewPGPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	logger := slog.Default().With("component", "state")
	logger.Info("connecting to database")

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("state: parse database url: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("state: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("state: ping database: %w", err)
	}
	logger.Info("database connection established")
	return pool, nil
}

// EnsureSchema creates the backing table if it does not exist.
func (b *PGBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, pgx.Identifier{b.table}.Sanitize()))
	return err
}

// Save upserts the record for id. A zero expiresAt never expires.
func (b *PGBackend) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	var expires any
	if !expiresAt.IsZero() {
		expires = expiresAt
	}
	_, err := b.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, data, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`, pgx.Identifier{b.table}.Sanitize()),
		id, data, expires)
	return err
}

// Load returns the record for id unless it is missing or expired.
func (b *PGBackend) Load(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT data FROM %s
		WHERE id = $1 AND (expires_at IS NULL OR expires_at > NOW())`, pgx.Identifier{b.table}.Sanitize()),
		id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes id.
func (b *PGBackend) Delete(ctx context.Context, id string) error {
	_, err := b.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pgx.Identifier{b.table}.Sanitize()), id)
	return err
}

// Close closes the pool when the backend was built on one.
func (b *PGBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}
