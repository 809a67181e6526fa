// Package bootstrap wires the substrate together, per spec.md §4.I:
// open database, create schema if absent, open broker connection,
// declare topology, attach the event-store sink and task runner
// consumers, and block until cancellation.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS event_store (
    id_event_store UUID PRIMARY KEY,
    correlation_id TEXT NOT NULL,
    producer_app TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    headers JSONB NOT NULL,
    payload JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS task_store (
    id_task UUID PRIMARY KEY,
    correlation_id TEXT NOT NULL,
    producer_app TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    task_name TEXT NOT NULL,
    payload JSONB NOT NULL,
    status TEXT NOT NULL,
    result JSONB,
    error TEXT
);
`

// openDB opens a pgx/v5-backed *sql.DB and fails fast with a PingContext,
// grounded on auth-service/internal/config/db.go's connect-and-verify
// shape (without its password-logging debug print).
func openDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("bootstrap: empty database dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(60 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}

	return db, nil
}

// ensureSchema issues the CREATE TABLE IF NOT EXISTS DDL for event_store
// and task_store, per spec.md §4.I's "create schema if absent" and the
// SUPPLEMENTED FEATURES startup schema creation carried from
// original_source/rabbitmq_service/service.py's init_db.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("bootstrap: ensure schema: %w", err)
	}
	return nil
}
