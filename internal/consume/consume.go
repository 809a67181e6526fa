// Package consume implements the consumer + retry engine described in
// spec.md §4.F: decode, validate against the entity's CRUD shape,
// dispatch to the handler, classify the outcome, and either ack,
// reinject into the attempt ladder, or dead-letter.
//
// Grounded on event-service's consumer.go (decode -> classify -> act loop
// shape, one goroutine per Consume channel) and original_source's
// process_message, which this package follows decision-for-decision.
package consume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/apperr"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/envelope"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/metrics"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/naming"
)

// Delivery is the slice of an inbound AMQP delivery this package needs.
// Kept local (not *amqp.Delivery) so the decision table is unit-testable
// without a broker.
type Delivery struct {
	Body          []byte
	AppID         string
	CorrelationID string
	Headers       map[string]any
	RoutingKey    string

	ContentType     string
	ContentEncoding string
	DeliveryMode    uint8
	Priority        uint8
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	ReplyTo         string
	Expiration      string
}

// Acker is the slice of *amqp.Channel's ack/nack surface the engine drives.
type Acker interface {
	Ack(deliveryTag uint64, multiple bool) error
	Nack(deliveryTag uint64, multiple, requeue bool) error
}

// Republisher is the slice of the publish channel needed to reinject a
// message into its next attempt queue. It takes the full envelope rather
// than a flattened parameter list so that every AMQP property the retry
// reinjection must preserve (spec.md §4.F) travels through untouched.
type Republisher interface {
	PublishEnvelope(ctx context.Context, exchange string, mandatory, immediate bool, env *envelope.Envelope) error
}

// Handler is the user-supplied business logic for one entity's messages.
// It receives the decoded payload and must classify its own failures by
// returning one of the apperr taxonomy types (or a plain error, which the
// engine treats as unknown).
type Handler func(ctx context.Context, payload map[string]any) error

// Validator is satisfied by *entity.ShapeValidator[T] (from
// Descriptor[T].Shape(kind)) for the entity this consumer is wired to.
type Validator interface {
	ValidateRaw(raw map[string]any) error
}

// Consumer runs the decision table in spec.md §4.F for one
// (kind, entity, service) queue.
type Consumer struct {
	kind, entity, service string

	handler   Handler
	validator Validator

	republisher Republisher
	lg          zerolog.Logger
}

func New(kind, entity, service string, handler Handler, validator Validator, republisher Republisher, lg zerolog.Logger) *Consumer {
	return &Consumer{
		kind: kind, entity: entity, service: service,
		handler: handler, validator: validator, republisher: republisher,
		lg: lg.With().
			Str("component", "consumer").
			Str("kind", kind).
			Str("entity", entity).
			Logger(),
	}
}

// HandleDelivery runs Delivery through Received -> Decoded -> Handled ->
// AckTerminal | NackDead | Reinjected end to end, on the caller's
// goroutine, per spec.md §5's concurrency invariant: the engine never
// interleaves ack/nack with mid-handler work.
func (c *Consumer) HandleDelivery(ctx context.Context, d Delivery, ack Acker, deliveryTag uint64) {
	attempt := envelope.AttemptFromHeaders(d.Headers)

	raw, err := decode(d.Body)
	if err != nil {
		c.lg.Error().Err(err).Str("correlation_id", d.CorrelationID).Msg("model error: malformed body")
		_ = ack.Ack(deliveryTag, false)
		metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeAck)
		return
	}

	if c.validator != nil {
		if err := c.validator.ValidateRaw(raw); err != nil {
			c.lg.Error().Err(err).Str("correlation_id", d.CorrelationID).Msg("model error: shape validation failed")
			_ = ack.Ack(deliveryTag, false)
			metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeAck)
			return
		}
	}

	err = c.handler(ctx, raw)
	if err == nil {
		_ = ack.Ack(deliveryTag, false)
		metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeAck)
		return
	}

	c.classify(ctx, err, d, attempt, ack, deliveryTag)
}

func (c *Consumer) classify(ctx context.Context, err error, d Delivery, attempt int, ack Acker, deliveryTag uint64) {
	var modelErr *apperr.ModelError
	var businessErr *apperr.BusinessError
	var technicalErr *apperr.TechnicalError

	switch {
	case errors.As(err, &modelErr):
		c.lg.Error().Err(err).Str("correlation_id", d.CorrelationID).Msg("model error from handler")
		_ = ack.Ack(deliveryTag, false)
		metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeAck)

	case errors.As(err, &businessErr):
		c.lg.Info().Err(err).Str("correlation_id", d.CorrelationID).Msg("business error, not retried")
		_ = ack.Ack(deliveryTag, false)
		metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeAck)

	case errors.As(err, &technicalErr):
		if attempt >= naming.MaxRetries {
			c.lg.Warn().Err(err).Int("attempt", attempt).Str("correlation_id", d.CorrelationID).
				Msg("max attempts reached, dead-lettering")
			_ = ack.Nack(deliveryTag, false, false)
			metrics.RecordDeadLettered(c.kind, c.entity)
			metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeDead)
			return
		}
		c.reinject(ctx, err, d, attempt, ack, deliveryTag)

	default:
		c.lg.Error().Err(err).Str("correlation_id", d.CorrelationID).Msg("unclassified error, acking to avoid poison loop")
		_ = ack.Ack(deliveryTag, false)
		metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeUnknown)
	}
}

func (c *Consumer) reinject(ctx context.Context, cause error, d Delivery, attempt int, ack Acker, deliveryTag uint64) {
	nextRK := naming.RewriteToAttemptRoutingKey(d.RoutingKey, attempt, c.service)
	next := deliveryToEnvelope(d, attempt).NextAttempt(nextRK)

	err := c.republisher.PublishEnvelope(ctx, naming.EventExchange, false, false, next)
	if err != nil {
		c.lg.Error().Err(err).Str("correlation_id", d.CorrelationID).
			Msg("failed to reinject into attempt ladder, dead-lettering instead")
		_ = ack.Nack(deliveryTag, false, false)
		metrics.RecordDeadLettered(c.kind, c.entity)
		metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeDead)
		return
	}

	c.lg.Info().Err(cause).Int("attempt", attempt).Str("next_routing_key", nextRK).
		Str("correlation_id", d.CorrelationID).Msg("reinjected into attempt ladder")
	_ = ack.Ack(deliveryTag, false)
	metrics.RecordRetry(c.kind, c.entity)
	metrics.RecordEventConsumed(c.kind, c.entity, metrics.OutcomeRetry)
}

// deliveryToEnvelope rebuilds the envelope an inbound Delivery was published
// as, so reinject can hand NextAttempt a complete value to increment rather
// than re-deriving the preserved fields by hand.
func deliveryToEnvelope(d Delivery, attempt int) *envelope.Envelope {
	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}
	return &envelope.Envelope{
		Body:          d.Body,
		AppID:         d.AppID,
		CorrelationID: d.CorrelationID,
		Attempt:       attempt,
		Headers:       headers,
		RoutingKey:    d.RoutingKey,

		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		MessageID:       d.MessageID,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		UserID:          d.UserID,
		ReplyTo:         d.ReplyTo,
		Expiration:      d.Expiration,
	}
}

func decode(body []byte) (map[string]any, error) {
	env := &envelope.Envelope{Body: body}
	raw, err := envelope.Decode(env)
	if err != nil {
		return nil, fmt.Errorf("consume: decode: %w", err)
	}
	return raw, nil
}
