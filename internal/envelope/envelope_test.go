package envelope

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsAttemptZeroAndUUIDCorrelation(t *testing.T) {
	e, err := New(map[string]any{"user_id": float64(7)}, "svc-a", "", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, e.Attempt)
	assert.Equal(t, int32(0), e.Headers[AttemptHeader])
	assert.Equal(t, "svc-a", e.AppID)
	_, err = uuid.Parse(e.CorrelationID)
	assert.NoError(t, err, "correlation id must be a valid UUID")
}

func TestNewPreservesSuppliedCorrelationID(t *testing.T) {
	e, err := New(map[string]any{"a": 1}, "svc-a", "fixed-id", nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", e.CorrelationID)
}

func TestNewNotifyInjectsEventName(t *testing.T) {
	e, err := NewNotify("user.renamed", map[string]any{"user_id": float64(1)}, "svc-a", "", nil)
	require.NoError(t, err)

	decoded, err := Decode(e)
	require.NoError(t, err)
	assert.Equal(t, "user.renamed", decoded["event_name"])
	assert.Equal(t, float64(1), decoded["user_id"])
}

func TestDecodeRoundTrip(t *testing.T) {
	e, err := New(map[string]any{"username": "alice", "user_id": float64(7)}, "svc-a", "", nil)
	require.NoError(t, err)

	decoded, err := Decode(e)
	require.NoError(t, err)
	assert.Equal(t, "alice", decoded["username"])
	assert.Equal(t, float64(7), decoded["user_id"])
}

func TestDecodeRejectsMalformedBody(t *testing.T) {
	e := &Envelope{Body: []byte("not json")}
	_, err := Decode(e)
	assert.Error(t, err)
}

func TestNextAttemptIncrementsAndPreservesBodyAndCorrelation(t *testing.T) {
	e, err := New(map[string]any{"a": 1}, "svc-a", "", nil)
	require.NoError(t, err)

	next := e.NextAttempt("routing.attempt.0.update.user.to.svc-b")

	assert.Equal(t, e.Body, next.Body)
	assert.Equal(t, e.CorrelationID, next.CorrelationID)
	assert.Equal(t, e.Attempt+1, next.Attempt)
	assert.Equal(t, int32(1), next.Headers[AttemptHeader])
	assert.Equal(t, "routing.attempt.0.update.user.to.svc-b", next.RoutingKey)

	// original must be untouched
	assert.Equal(t, 0, e.Attempt)
	assert.Equal(t, int32(0), e.Headers[AttemptHeader])
}

func TestNextAttemptPreservesAMQPProperties(t *testing.T) {
	e, err := New(map[string]any{"a": 1}, "svc-a", "", nil)
	require.NoError(t, err)
	e.ContentType = "application/json"
	e.MessageID = "msg-1"
	e.ReplyTo = "reply-q"
	e.Type = "update"

	next := e.NextAttempt("rk")
	assert.Equal(t, e.ContentType, next.ContentType)
	assert.Equal(t, e.MessageID, next.MessageID)
	assert.Equal(t, e.ReplyTo, next.ReplyTo)
	assert.Equal(t, e.Type, next.Type)
}

func TestAttemptFromHeadersHandlesEncodings(t *testing.T) {
	assert.Equal(t, 2, AttemptFromHeaders(map[string]any{AttemptHeader: int32(2)}))
	assert.Equal(t, 3, AttemptFromHeaders(map[string]any{AttemptHeader: int64(3)}))
	assert.Equal(t, 1, AttemptFromHeaders(map[string]any{AttemptHeader: 1}))
	assert.Equal(t, 0, AttemptFromHeaders(map[string]any{}))
	assert.Equal(t, 0, AttemptFromHeaders(map[string]any{AttemptHeader: "bogus"}))
}
