package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/envelope"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/publish"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/topology"
)

// broker owns the AMQP connection and the channels handed out to the
// substrate's components. One channel per logical consumer is used, per
// spec.md §5's "a channel per logical consumer is recommended."
type broker struct {
	conn *amqp.Connection
}

func dialBroker(url string) (*broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: dial broker: %w", err)
	}
	return &broker{conn: conn}, nil
}

func (b *broker) close() error {
	return b.conn.Close()
}

func (b *broker) newChannel() (*amqp.Channel, error) {
	return b.conn.Channel()
}

// topologyChannel adapts *amqp.Channel to topology.Channel.
type topologyChannel struct{ ch *amqp.Channel }

func (t topologyChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args topology.Args) error {
	return t.ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, toAMQPTable(args))
}

func (t topologyChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args topology.Args) error {
	_, err := t.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, toAMQPTable(args))
	return err
}

func (t topologyChannel) QueueBind(name, key, exchange string, noWait bool, args topology.Args) error {
	return t.ch.QueueBind(name, key, exchange, noWait, toAMQPTable(args))
}

func toAMQPTable(args topology.Args) amqp.Table {
	if args == nil {
		return nil
	}
	t := make(amqp.Table, len(args))
	for k, v := range args {
		t[k] = v
	}
	return t
}

// publishChannel adapts a confirm-mode *amqp.Channel to publish.Channel.
type publishChannel struct {
	ch        *amqp.Channel
	confirmCh chan publish.Confirmation
}

func newPublishChannel(ch *amqp.Channel) (*publishChannel, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("bootstrap: enable publisher confirms: %w", err)
	}

	p := &publishChannel{ch: ch, confirmCh: make(chan publish.Confirmation, 8)}

	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 8))
	returns := ch.NotifyReturn(make(chan amqp.Return, 8))

	go func() {
		for {
			select {
			case c, ok := <-acks:
				if !ok {
					return
				}
				p.confirmCh <- publish.Confirmation{Ack: c.Ack}
			case r, ok := <-returns:
				if !ok {
					return
				}
				p.confirmCh <- publish.Confirmation{
					Returned:   true,
					ReplyCode:  int(r.ReplyCode),
					ReplyText:  r.ReplyText,
					RoutingKey: r.RoutingKey,
				}
			}
		}
	}()

	return p, nil
}

func (p *publishChannel) PublishWithContext(ctx context.Context, exchange, routingKey string, mandatory, immediate bool, body []byte, appID, correlationID string, headers map[string]any, contentType string, deliveryMode uint8, timestamp time.Time) error {
	return p.ch.PublishWithContext(ctx, exchange, routingKey, mandatory, immediate, amqp.Publishing{
		ContentType:   contentType,
		Body:          body,
		Headers:       toAMQPTable(headers),
		AppId:         appID,
		CorrelationId: correlationID,
		DeliveryMode:  deliveryMode,
		Timestamp:     timestamp,
	})
}

// PublishEnvelope implements consume.Republisher: it republishes a retry
// envelope carrying every AMQP property the original message had, per
// spec.md §4.F (only headers[x-attempt] differs from the prior attempt).
func (p *publishChannel) PublishEnvelope(ctx context.Context, exchange string, mandatory, immediate bool, env *envelope.Envelope) error {
	return p.ch.PublishWithContext(ctx, exchange, env.RoutingKey, mandatory, immediate, amqp.Publishing{
		ContentType:     env.ContentType,
		ContentEncoding: env.ContentEncoding,
		Body:            env.Body,
		Headers:         toAMQPTable(env.Headers),
		DeliveryMode:    env.DeliveryMode,
		Priority:        env.Priority,
		CorrelationId:   env.CorrelationID,
		MessageId:       env.MessageID,
		Timestamp:       env.Timestamp,
		Type:            env.Type,
		UserId:          env.UserID,
		AppId:           env.AppID,
		ReplyTo:         env.ReplyTo,
		Expiration:      env.Expiration,
	})
}

func (p *publishChannel) Confirmations() <-chan publish.Confirmation {
	return p.confirmCh
}

// channelAcker adapts *amqp.Channel to consume.Acker.
type channelAcker struct{ ch *amqp.Channel }

func (a channelAcker) Ack(deliveryTag uint64, multiple bool) error {
	return a.ch.Ack(deliveryTag, multiple)
}

func (a channelAcker) Nack(deliveryTag uint64, multiple, requeue bool) error {
	return a.ch.Nack(deliveryTag, multiple, requeue)
}
