// Package taskrunner implements the task runner described in spec.md
// §4.H: persist every submitted task as PENDING, resolve an executor by
// name from a startup-populated registry, run it, and record the result
// or error before finally acking.
//
// The registry replaces the source's dynamic import-by-name dispatch
// (spec.md §9): the host application registers executors explicitly
// before Service.Start; this package never resolves a name via
// reflect.New or a plugin loader.
package taskrunner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/metrics"
)

// Status is a TaskStore row's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Row is one task_store record, per spec.md §3.
type Row struct {
	IDTask        uuid.UUID
	CorrelationID string
	ProducerApp   string
	CreatedAt     time.Time
	TaskName      string
	Payload       map[string]any
	Status        Status
	Result        map[string]any
	Error         *string
}

// Store persists and updates TaskStore rows.
type Store interface {
	Insert(ctx context.Context, row Row) (uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID, result map[string]any) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Executor is the per-task-name business function: payload in, result
// object out. Per spec.md §4.H: "asynchronous function from payload to
// result object."
type Executor func(ctx context.Context, payload map[string]any) (map[string]any, error)

// ErrUnknownTask is recorded as the FAILED row's error when task_name has
// no registered executor.
var ErrUnknownTask = errors.New("unknown task")

// Registry maps task_name to Executor. Registration happens once at
// startup, from the package named by TASKS_PACKAGE; after Service.Start
// the registry is read-only, per spec.md §5's resource model.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: map[string]Executor{}}
}

// Register adds an executor under name. Intended to run from the host
// application's init-time wiring, before Service.Start.
func (r *Registry) Register(name string, fn Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = fn
}

func (r *Registry) resolve(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.executors[name]
	return fn, ok
}

// Runner drives the PENDING -> COMPLETED|FAILED lifecycle for one
// incoming task message.
type Runner struct {
	store    Store
	registry *Registry
	lg       zerolog.Logger
}

func NewRunner(store Store, registry *Registry, lg zerolog.Logger) *Runner {
	return &Runner{store: store, registry: registry, lg: lg.With().Str("component", "task_runner").Logger()}
}

// Handle implements spec.md §4.H steps 1-5. It always returns nil
// (failures are recorded in the store, never propagated) so the caller
// always acks, matching "Ack the message regardless."
func (r *Runner) Handle(ctx context.Context, appID, correlationID, taskName string, payload map[string]any) error {
	id, err := r.store.Insert(ctx, Row{
		CorrelationID: correlationID,
		ProducerApp:   appID,
		CreatedAt:     time.Now().UTC(),
		TaskName:      taskName,
		Payload:       payload,
		Status:        StatusPending,
	})
	if err != nil {
		r.lg.Error().Err(err).Str("task_name", taskName).Msg("failed to persist pending task row")
		return nil
	}

	fn, ok := r.registry.resolve(taskName)
	if !ok {
		r.lg.Warn().Str("task_name", taskName).Msg("unknown task name")
		if err := r.store.Fail(ctx, id, ErrUnknownTask.Error()); err != nil {
			r.lg.Error().Err(err).Str("task_id", id.String()).Msg("failed to record unknown-task failure")
		}
		metrics.RecordTask(taskName, string(StatusFailed))
		return nil
	}

	result, err := fn(ctx, payload)
	if err != nil {
		r.lg.Info().Err(err).Str("task_name", taskName).Str("task_id", id.String()).Msg("task failed")
		if err := r.store.Fail(ctx, id, err.Error()); err != nil {
			r.lg.Error().Err(err).Str("task_id", id.String()).Msg("failed to record task failure")
		}
		metrics.RecordTask(taskName, string(StatusFailed))
		return nil
	}

	if err := r.store.Complete(ctx, id, result); err != nil {
		r.lg.Error().Err(err).Str("task_id", id.String()).Msg("failed to record task completion")
	}
	metrics.RecordTask(taskName, string(StatusCompleted))
	return nil
}

const (
	insertTaskSQL = `
INSERT INTO task_store (id_task, correlation_id, producer_app, created_at, task_name, payload, status, result, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL)
`
	completeTaskSQL = `UPDATE task_store SET status = $2, result = $3, error = NULL WHERE id_task = $1`
	failTaskSQL     = `UPDATE task_store SET status = $2, error = $3 WHERE id_task = $1`
)

// PostgresStore implements Store over database/sql (pgx/v5 stdlib driver).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, row Row) (uuid.UUID, error) {
	id := row.IDTask
	if id == uuid.Nil {
		id = uuid.New()
	}

	payloadJSON, err := json.Marshal(row.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("taskrunner: encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertTaskSQL,
		id, row.CorrelationID, row.ProducerApp, row.CreatedAt, row.TaskName, payloadJSON, string(StatusPending),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("taskrunner: insert: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("taskrunner: encode result: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, completeTaskSQL, id, string(StatusCompleted), resultJSON); err != nil {
		return fmt.Errorf("taskrunner: complete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	if _, err := s.db.ExecContext(ctx, failTaskSQL, id, string(StatusFailed), errMsg); err != nil {
		return fmt.Errorf("taskrunner: fail: %w", err)
	}
	return nil
}
