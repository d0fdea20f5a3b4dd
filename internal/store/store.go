package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by the repositories.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool DB

	CallLog  CallLogRepository
	Contacts ContactRepository
	Blocked  BlockedRepository
	Devices  DeviceRepository
}

// New wires concrete repository implementations with shared connection pool.
func New(pool DB) *Store {
	return &Store{
		pool:     pool,
		CallLog:  &callLogRepo{pool: pool},
		Contacts: &contactRepo{pool: pool},
		Blocked:  &blockedRepo{pool: pool},
		Devices:  &deviceRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}

// Migrate applies pending schema migrations and returns their names.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	defer observeDB(ctx, "db.migrate")()
	return ApplyMigrations(ctx, s.pool)
}
