package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	rows []Row
	err  error
}

func (f *fakeStore) Insert(ctx context.Context, row Row) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

func TestHandlePersistsRowWithMatchingFields(t *testing.T) {
	store := &fakeStore{}
	sink := NewSink(store)

	headers := map[string]any{"x-attempt": int32(0)}
	payload := map[string]any{"user_id": float64(7)}

	err := sink.Handle(context.Background(), "svc-a", "corr-1", headers, payload)
	require.NoError(t, err)

	require.Len(t, store.rows, 1)
	assert.Equal(t, "svc-a", store.rows[0].ProducerApp)
	assert.Equal(t, "corr-1", store.rows[0].CorrelationID)
	assert.Equal(t, headers, store.rows[0].Headers)
	assert.Equal(t, payload, store.rows[0].Payload)
}

func TestHandleRejectsMissingAppID(t *testing.T) {
	sink := NewSink(&fakeStore{})
	err := sink.Handle(context.Background(), "", "corr-1", nil, map[string]any{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHandleRejectsMissingCorrelationID(t *testing.T) {
	sink := NewSink(&fakeStore{})
	err := sink.Handle(context.Background(), "svc-a", "", nil, map[string]any{})
	assert.ErrorIs(t, err, ErrMalformed)
}
