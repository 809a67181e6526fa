package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/config"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/consume"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/envelope"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/eventstore"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/naming"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/publish"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/taskrunner"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/topology"
)

// Service wires the broker connection, the database, topology
// declaration, and the event-store sink and task runner consumers, per
// spec.md §4.I. The broker connection, channels, and the task registry
// live on Service rather than in package-level state, per spec.md §9's
// "global mutable state" redesign hint.
type Service struct {
	cfg *config.Config
	lg  zerolog.Logger

	db     *sql.DB
	broker *broker

	publisher *Publisher
	registry  *taskrunner.Registry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Publisher is the subset of publish.Publisher exposed to callers that
// construct a Service; it's the same type, aliased here so bootstrap
// stays the single import callers need for the common path.
type Publisher = publish.Publisher

// New opens the database and broker connections, creates the schema if
// absent, and declares the four top-level exchanges and the event-store
// queue. Per-entity
// event/task topology (DeclareEvent/DeclareTask) is the caller's
// responsibility once entity descriptors are known, via Service.Topology.
func New(cfg *config.Config, registry *taskrunner.Registry, lg zerolog.Logger) (*Service, error) {
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if err := ensureSchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	br, err := dialBroker(cfg.RabbitMQURL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	topoCh, err := br.newChannel()
	if err != nil {
		_ = br.close()
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: open topology channel: %w", err)
	}
	builder := topology.NewBuilder(topologyChannel{ch: topoCh})
	if err := builder.DeclareExchanges(); err != nil {
		_ = br.close()
		_ = db.Close()
		return nil, err
	}
	if err := builder.DeclareEventStore(); err != nil {
		_ = br.close()
		_ = db.Close()
		return nil, err
	}

	pubCh, err := br.newChannel()
	if err != nil {
		_ = br.close()
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: open publish channel: %w", err)
	}
	pubAdapter, err := newPublishChannel(pubCh)
	if err != nil {
		_ = br.close()
		_ = db.Close()
		return nil, err
	}

	svc := &Service{
		cfg:       cfg,
		lg:        lg.With().Str("component", "bootstrap").Logger(),
		db:        db,
		broker:    br,
		publisher: publish.New(pubAdapter, cfg.ServiceName, lg),
		registry:  registry,
	}
	return svc, nil
}

// Publisher returns the service's publisher, for the host application to
// publish domain events through.
func (s *Service) Publisher() *Publisher { return s.publisher }

// Topology returns a topology.Builder on a fresh broker channel, with which
// the host can declare per-entity event topology (kind, entity, service)
// and per-action task topology before Start. It declares nothing itself.
func (s *Service) Topology() (*topology.Builder, error) {
	ch, err := s.broker.newChannel()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open topology channel: %w", err)
	}
	return topology.NewBuilder(topologyChannel{ch: ch}), nil
}

// AttachTaskQueue declares the topology for one (action, entity) task
// type and attaches a runner consumer for it. Task topology is per
// action/entity rather than a single catch-all queue, per spec.md §4.D:
// direct exchanges carry no wildcard binding, so every task type the host
// wants executed needs its own declared queue. Call this for each task
// type before Start.
func (s *Service) AttachTaskQueue(ctx context.Context, action, entity string) error {
	topoCh, err := s.broker.newChannel()
	if err != nil {
		return fmt.Errorf("bootstrap: open task topology channel: %w", err)
	}
	builder := topology.NewBuilder(topologyChannel{ch: topoCh})
	if err := builder.DeclareTask(action, entity); err != nil {
		return err
	}

	ch, err := s.broker.newChannel()
	if err != nil {
		return fmt.Errorf("bootstrap: open task-runner channel: %w", err)
	}

	deliveries, err := ch.Consume(naming.TaskQueueName(action, entity), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: consume task queue: %w", err)
	}

	store := taskrunner.NewPostgresStore(s.db)
	runner := taskrunner.NewRunner(store, s.registry, s.lg)
	ack := channelAcker{ch: ch}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				s.handleTaskDelivery(ctx, runner, ack, d)
			}
		}
	}()
	return nil
}

// AttachEventConsumer declares the topology for one (kind, entity) event
// type bound to this service's name and attaches a consume.Consumer
// running handler for every delivery, per spec.md §4.F. validator may be
// nil; pass an *entity.Descriptor[T].Shape(kind) to enforce the CRUD
// shape invariant before handler ever runs. Call this for each event
// type the host wants to subscribe to, before Start.
func (s *Service) AttachEventConsumer(ctx context.Context, kind, entity string, handler consume.Handler, validator consume.Validator) error {
	topoCh, err := s.broker.newChannel()
	if err != nil {
		return fmt.Errorf("bootstrap: open event topology channel: %w", err)
	}
	builder := topology.NewBuilder(topologyChannel{ch: topoCh})
	if err := builder.DeclareEvent(kind, entity, s.cfg.ServiceName); err != nil {
		return err
	}

	pubCh, err := s.broker.newChannel()
	if err != nil {
		return fmt.Errorf("bootstrap: open reinject channel: %w", err)
	}
	republisher, err := newPublishChannel(pubCh)
	if err != nil {
		return err
	}

	consumeCh, err := s.broker.newChannel()
	if err != nil {
		return fmt.Errorf("bootstrap: open event consumer channel: %w", err)
	}
	queueName := naming.EventQueueName(kind, entity, s.cfg.ServiceName)
	deliveries, err := consumeCh.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: consume event queue: %w", err)
	}

	consumer := consume.New(kind, entity, s.cfg.ServiceName, handler, validator, republisher, s.lg)
	ack := channelAcker{ch: consumeCh}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				consumer.HandleDelivery(ctx, toConsumeDelivery(d), ack, d.DeliveryTag)
			}
		}
	}()
	return nil
}

// Start attaches the event-store sink consumer and blocks until ctx is
// cancelled, per spec.md §4.I: "attach consumers for G and H; block
// forever." Task queues attached via AttachTaskQueue keep running
// alongside it; call AttachTaskQueue before Start.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.startEventStoreSink(runCtx); err != nil {
		return err
	}

	<-runCtx.Done()
	s.wg.Wait()
	return nil
}

// Stop cancels all consumers, closes the broker connection, and closes
// the database, per spec.md §4.I's shutdown order.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	var firstErr error
	if err := s.broker.close(); err != nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Service) startEventStoreSink(ctx context.Context) error {
	ch, err := s.broker.newChannel()
	if err != nil {
		return fmt.Errorf("bootstrap: open event-store channel: %w", err)
	}

	deliveries, err := ch.Consume(naming.EventStoreQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: consume event-store queue: %w", err)
	}

	store := eventstore.NewPostgresStore(s.db)
	sink := eventstore.NewSink(store)
	ack := channelAcker{ch: ch}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				s.handleEventStoreDelivery(ctx, sink, ack, d)
			}
		}
	}()
	return nil
}

func (s *Service) handleEventStoreDelivery(ctx context.Context, sink *eventstore.Sink, ack channelAcker, d amqp.Delivery) {
	env := &envelope.Envelope{Body: d.Body}
	payload, err := envelope.Decode(env)
	if err != nil {
		s.lg.Error().Err(err).Msg("event-store: malformed body, rejecting")
		_ = ack.Nack(d.DeliveryTag, false, false)
		return
	}

	headers := map[string]any(d.Headers)
	if err := sink.Handle(ctx, d.AppId, d.CorrelationId, headers, payload); err != nil {
		if err == eventstore.ErrMalformed {
			s.lg.Warn().Msg("event-store: missing app_id or correlation_id, rejecting")
		} else {
			s.lg.Error().Err(err).Msg("event-store: failed to persist, rejecting")
		}
		_ = ack.Nack(d.DeliveryTag, false, false)
		return
	}
	_ = ack.Ack(d.DeliveryTag, false)
}

func (s *Service) handleTaskDelivery(ctx context.Context, runner *taskrunner.Runner, ack channelAcker, d amqp.Delivery) {
	env := &envelope.Envelope{Body: d.Body}
	body, err := envelope.Decode(env)
	if err != nil {
		s.lg.Error().Err(err).Msg("task-runner: malformed body")
		_ = ack.Ack(d.DeliveryTag, false)
		return
	}

	taskName, _ := body["task_name"].(string)
	payload, _ := body["payload"].(map[string]any)

	_ = runner.Handle(ctx, d.AppId, d.CorrelationId, taskName, payload)
	_ = ack.Ack(d.DeliveryTag, false)
}

func toConsumeDelivery(d amqp.Delivery) consume.Delivery {
	return consume.Delivery{
		Body:            d.Body,
		AppID:           d.AppId,
		CorrelationID:   d.CorrelationId,
		Headers:         map[string]any(d.Headers),
		RoutingKey:      d.RoutingKey,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		MessageID:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		UserID:          d.UserId,
		ReplyTo:         d.ReplyTo,
		Expiration:      d.Expiration,
	}
}
