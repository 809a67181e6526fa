// Package publish implements the publisher described in spec.md §4.E:
// given a domain entity payload and an event kind, compute the routing
// key via naming, build the envelope via envelope, and publish it onto
// the event exchange.
//
// Grounded on baechuer-real-time-ressys's two publisher shapes:
// event-service's publisher.go (connect/confirm/return lifecycle) and
// email-service's retry_publisher.go (confirm-mode publish with a
// bounded ack/return wait window). Publisher confirms are an allowed
// extension per spec.md §4.E ("an implementation MAY add publisher
// confirms"), not a requirement — kept because the teacher always uses
// them and dropping them would mean silently losing NO_ROUTE failures.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/envelope"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/metrics"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/naming"
)

// confirmWait bounds how long Publish waits for a broker ack/return before
// falling back to a best-effort success, mirroring the teacher's
// publishWait window.
const confirmWait = 250 * time.Millisecond

// Confirmation is one event off either the publish-confirm or the
// mandatory-return notification channel.
type Confirmation struct {
	Ack        bool
	Returned   bool
	ReplyCode  int
	ReplyText  string
	RoutingKey string
}

// Channel is the slice of *amqp.Channel the publisher needs. Declared
// locally so tests can substitute a fake without a live broker.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, routingKey string, mandatory, immediate bool, body []byte, appID, correlationID string, headers map[string]any, contentType string, deliveryMode uint8, timestamp time.Time) error
	Confirmations() <-chan Confirmation
}

// Publisher publishes CRUD and notify events onto the event exchange.
type Publisher struct {
	ch          Channel
	serviceName string
	lg          zerolog.Logger
}

func New(ch Channel, serviceName string, lg zerolog.Logger) *Publisher {
	return &Publisher{
		ch:          ch,
		serviceName: serviceName,
		lg:          lg.With().Str("component", "publisher").Logger(),
	}
}

// Publish emits a CRUD event for (kind, entity) with the given payload.
// The routing key is computed by naming.EventRoutingKey; the envelope is
// built fresh (attempt 0, new correlation id, app_id = service name).
func (p *Publisher) Publish(ctx context.Context, kind, entity string, payload map[string]any) error {
	env, err := envelope.New(payload, p.serviceName, "", nil)
	if err != nil {
		return fmt.Errorf("publish: build envelope: %w", err)
	}
	rk := naming.EventRoutingKey(kind, entity)
	if err := p.publishEnvelope(ctx, naming.EventExchange, rk, env); err != nil {
		metrics.RecordPublishFailed(kind, entity)
		return err
	}
	metrics.RecordEventPublished(kind, entity)
	return nil
}

// PublishNotify implements the notify variant of spec.md §4.E: "wraps a
// user function; after the function returns a value, publish it under
// kind notify with injected event_name."
func (p *Publisher) PublishNotify(ctx context.Context, entity string, fn func(ctx context.Context) (map[string]any, error)) error {
	result, err := fn(ctx)
	if err != nil {
		return fmt.Errorf("publish notify: user function failed: %w", err)
	}

	env, err := envelope.NewNotify(entity, result, p.serviceName, "", nil)
	if err != nil {
		return fmt.Errorf("publish notify: build envelope: %w", err)
	}
	rk := naming.EventRoutingKey("notify", entity)
	if err := p.publishEnvelope(ctx, naming.EventExchange, rk, env); err != nil {
		metrics.RecordPublishFailed("notify", entity)
		return err
	}
	metrics.RecordEventPublished("notify", entity)
	return nil
}

// PublishTask submits a task onto the task exchange for the given
// (action, entity) task queue. The body carries task_name and payload,
// matching what bootstrap's task-queue consumer unwraps before handing
// them to taskrunner.Runner on the consuming side.
func (p *Publisher) PublishTask(ctx context.Context, action, entity, taskName string, payload map[string]any) error {
	body := map[string]any{"task_name": taskName, "payload": payload}
	env, err := envelope.New(body, p.serviceName, "", nil)
	if err != nil {
		return fmt.Errorf("publish task: build envelope: %w", err)
	}
	rk := naming.TaskRoutingKey(action, entity)
	if err := p.publishEnvelope(ctx, naming.TaskExchange, rk, env); err != nil {
		metrics.RecordPublishFailed("task", taskName)
		return err
	}
	metrics.RecordEventPublished("task", taskName)
	return nil
}

func (p *Publisher) publishEnvelope(ctx context.Context, exchange, routingKey string, env *envelope.Envelope) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}

	err := p.ch.PublishWithContext(
		ctx, exchange, routingKey, true, false,
		env.Body, env.AppID, env.CorrelationID, env.Headers,
		"application/json", 2, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return p.waitConfirm(ctx, exchange, routingKey)
}

func (p *Publisher) waitConfirm(ctx context.Context, exchange, routingKey string) error {
	timer := time.NewTimer(confirmWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c := <-p.ch.Confirmations():
			if c.Returned {
				p.lg.Error().
					Str("exchange", exchange).
					Str("routing_key", routingKey).
					Int("code", c.ReplyCode).
					Str("reason", c.ReplyText).
					Msg("publish returned (mandatory, no route)")
				return fmt.Errorf("publish returned: %d %s", c.ReplyCode, c.ReplyText)
			}
			if !c.Ack {
				return errors.New("publish not acked")
			}
			return nil

		case <-timer.C:
			p.lg.Warn().
				Str("exchange", exchange).
				Str("routing_key", routingKey).
				Msg("confirm/return timeout window elapsed")
			return nil
		}
	}
}
