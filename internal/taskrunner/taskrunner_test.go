package taskrunner

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	inserted  []Row
	completed map[uuid.UUID]map[string]any
	failed    map[uuid.UUID]string
	nextID    uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		completed: map[uuid.UUID]map[string]any{},
		failed:    map[uuid.UUID]string{},
		nextID:    uuid.New(),
	}
}

func (f *fakeStore) Insert(ctx context.Context, row Row) (uuid.UUID, error) {
	f.inserted = append(f.inserted, row)
	return f.nextID, nil
}

func (f *fakeStore) Complete(ctx context.Context, id uuid.UUID, result map[string]any) error {
	f.completed[id] = result
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func TestHandleInsertsPendingThenCompletes(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	reg.Register("t1", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		x := payload["x"].(float64)
		return map[string]any{"ok": x + 1}, nil
	})
	runner := NewRunner(store, reg, zerolog.Nop())

	err := runner.Handle(context.Background(), "svc-a", "corr-1", "t1", map[string]any{"x": float64(1)})
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, StatusPending, store.inserted[0].Status)
	assert.Equal(t, map[string]any{"ok": float64(2)}, store.completed[store.nextID])
	assert.Empty(t, store.failed)
}

func TestHandleRecordsFailureFromExecutor(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	reg.Register("t1", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	runner := NewRunner(store, reg, zerolog.Nop())

	err := runner.Handle(context.Background(), "svc-a", "corr-1", "t1", map[string]any{})
	require.NoError(t, err, "failures are recorded, never propagated")

	assert.Equal(t, "boom", store.failed[store.nextID])
	assert.Empty(t, store.completed)
}

func TestHandleRecordsUnknownTaskAsFailed(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	runner := NewRunner(store, reg, zerolog.Nop())

	err := runner.Handle(context.Background(), "svc-a", "corr-1", "does-not-exist", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, ErrUnknownTask.Error(), store.failed[store.nextID])
}
