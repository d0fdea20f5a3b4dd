package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"gitea.jw6.us/james/dialer/internal/migrations"
)

// PgxPool is the subset of pgxpool.Pool needed to run migrations.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

const (
	qMigrationTableExists = `SELECT EXISTS (
        SELECT 1 FROM information_schema.tables
        WHERE table_schema='public' AND table_name='schema_migrations'
)`
	qUserTableCount = `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')`
	qCreateMigrationTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	qMigrationApplied = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`
	qRecordMigration  = `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`
)

// ApplyMigrations applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction, and returns the names it
// applied. A populated database without tracking is assumed to already carry
// the initial schema.
func ApplyMigrations(ctx context.Context, pool PgxPool) ([]string, error) {
	names, err := migrationFiles(migrations.Files)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	if err := bootstrapTracking(ctx, pool, names[0]); err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		var done bool
		if err := pool.QueryRow(ctx, qMigrationApplied, name).Scan(&done); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}
		if done {
			continue
		}
		if err := applyMigration(ctx, pool, name); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// bootstrapTracking creates schema_migrations on first run.
func bootstrapTracking(ctx context.Context, pool PgxPool, initial string) error {
	var tracked bool
	if err := pool.QueryRow(ctx, qMigrationTableExists).Scan(&tracked); err != nil {
		return fmt.Errorf("check migration table: %w", err)
	}
	if tracked {
		return nil
	}

	var tables int
	if err := pool.QueryRow(ctx, qUserTableCount).Scan(&tables); err != nil {
		return fmt.Errorf("count tables: %w", err)
	}
	if _, err := pool.Exec(ctx, qCreateMigrationTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	if tables == 0 {
		return nil
	}
	return recordMigration(ctx, pool, initial)
}

func migrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func applyMigration(ctx context.Context, pool PgxPool, name string) error {
	contents, err := migrations.Files.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, string(contents)); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if err := recordMigration(ctx, tx, name); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func recordMigration(ctx context.Context, db execer, name string) error {
	if _, err := db.Exec(ctx, qRecordMigration, name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return nil
}
