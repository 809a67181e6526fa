// Package eventstore implements the event-store sink described in
// spec.md §4.G: a catch-all subscriber that persists every observed
// event into the event_store table within one transaction per message.
//
// Grounded on event-service's db/postgres/repo.go (plain database/sql,
// ExecContext with a fixed SQL string, json.Marshal for JSON columns).
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Row is one append-only event_store record, per spec.md §3.
type Row struct {
	IDEventStore  uuid.UUID
	CorrelationID string
	ProducerApp   string
	CreatedAt     time.Time
	Headers       map[string]any
	Payload       map[string]any
}

// ErrMalformed signals a message missing app_id or correlation_id, per
// spec.md §4.G: "If app_id or correlation_id is missing, reject without
// requeue (message is malformed)."
var ErrMalformed = errors.New("eventstore: missing app_id or correlation_id")

// Store persists EventStore rows. PostgresStore is the production
// implementation; tests substitute a fake.
type Store interface {
	Insert(ctx context.Context, row Row) error
}

const insertEventStoreSQL = `
INSERT INTO event_store (id_event_store, correlation_id, producer_app, created_at, headers, payload)
VALUES ($1, $2, $3, $4, $5, $6)
`

// PostgresStore implements Store over a single database/sql handle
// obtained from pgx/v5's stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert writes row inside its own transaction, matching spec.md §4.G's
// "within one database transaction, insert a row ... then ack."
func (s *PostgresStore) Insert(ctx context.Context, row Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	headersJSON, err := json.Marshal(row.Headers)
	if err != nil {
		return fmt.Errorf("eventstore: encode headers: %w", err)
	}
	payloadJSON, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("eventstore: encode payload: %w", err)
	}

	id := row.IDEventStore
	if id == uuid.Nil {
		id = uuid.New()
	}

	if _, err := tx.ExecContext(ctx, insertEventStoreSQL,
		id, row.CorrelationID, row.ProducerApp, row.CreatedAt, headersJSON, payloadJSON,
	); err != nil {
		return fmt.Errorf("eventstore: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventstore: commit: %w", err)
	}
	return nil
}

// Sink is the consumer-side component driving Store from a raw message.
type Sink struct {
	store Store
}

func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// Handle builds and persists a Row from a decoded message. It returns
// ErrMalformed (caller should reject without requeue) when app_id or
// correlation_id is missing.
func (s *Sink) Handle(ctx context.Context, appID, correlationID string, headers, payload map[string]any) error {
	if appID == "" || correlationID == "" {
		return ErrMalformed
	}

	return s.store.Insert(ctx, Row{
		CorrelationID: correlationID,
		ProducerApp:   appID,
		CreatedAt:     time.Now().UTC(),
		Headers:       headers,
		Payload:       payload,
	})
}
