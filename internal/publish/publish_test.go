package publish

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/naming"
)

type publishedMessage struct {
	exchange, routingKey string
	body                 []byte
	appID, correlationID string
	headers              map[string]any
}

type fakeChannel struct {
	published []publishedMessage
	confirmCh chan Confirmation
	autoAck   bool
}

func newFakeChannel(autoAck bool) *fakeChannel {
	return &fakeChannel{
		confirmCh: make(chan Confirmation, 4),
		autoAck:   autoAck,
	}
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, routingKey string, mandatory, immediate bool, body []byte, appID, correlationID string, headers map[string]any, contentType string, deliveryMode uint8, timestamp time.Time) error {
	f.published = append(f.published, publishedMessage{
		exchange: exchange, routingKey: routingKey, body: body,
		appID: appID, correlationID: correlationID, headers: headers,
	})
	if f.autoAck {
		f.confirmCh <- Confirmation{Ack: true}
	}
	return nil
}

func (f *fakeChannel) Confirmations() <-chan Confirmation {
	return f.confirmCh
}

func TestPublishUsesEventRoutingKeyAndAttemptZero(t *testing.T) {
	ch := newFakeChannel(true)
	p := New(ch, "svc-a", zerolog.Nop())

	err := p.Publish(context.Background(), "create", "user", map[string]any{"user_id": float64(7)})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, naming.EventExchange, msg.exchange)
	assert.Equal(t, "routing.event.create.user.#", msg.routingKey)
	assert.Equal(t, "svc-a", msg.appID)
	assert.Equal(t, int32(0), msg.headers["x-attempt"])
	assert.NotEmpty(t, msg.correlationID)
}

func TestPublishNotifyInjectsEventNameAndUsesNotifyKind(t *testing.T) {
	ch := newFakeChannel(true)
	p := New(ch, "svc-a", zerolog.Nop())

	err := p.PublishNotify(context.Background(), "user", func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"user_id": float64(1)}, nil
	})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, "routing.event.notify.user.#", ch.published[0].routingKey)
	assert.Contains(t, string(ch.published[0].body), "event_name")
}

func TestPublishReturnsErrorOnNack(t *testing.T) {
	ch := newFakeChannel(false)
	p := New(ch, "svc-a", zerolog.Nop())
	go func() {
		ch.confirmCh <- Confirmation{Ack: false}
	}()

	err := p.Publish(context.Background(), "create", "user", map[string]any{"a": 1})
	assert.Error(t, err)
}

func TestPublishReturnsErrorOnMandatoryReturn(t *testing.T) {
	ch := newFakeChannel(false)
	p := New(ch, "svc-a", zerolog.Nop())
	go func() {
		ch.confirmCh <- Confirmation{Returned: true, ReplyCode: 312, ReplyText: "NO_ROUTE"}
	}()

	err := p.Publish(context.Background(), "create", "user", map[string]any{"a": 1})
	assert.Error(t, err)
}
