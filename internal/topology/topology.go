// Package topology declares the exchanges, queues, and bindings described
// in spec.md §4.D against a minimal Channel interface, so the declaration
// logic is unit-testable against a fake without a live broker. In
// production it is satisfied by an adapter over *amqp.Channel that lives in
// internal/bootstrap.
package topology

import (
	"fmt"

	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/naming"
)

// MainQueueTTLMS is the 24h message TTL on main event/task queues.
const MainQueueTTLMS = 86_400_000

// MaxQueueLength and MaxQueueLengthBytes bound main queue backpressure.
const (
	MaxQueueLength      = 10_000
	MaxQueueLengthBytes = 100 * 1024 * 1024
)

// Args is the subset of amqp.Table this package needs; kept as a plain map
// so callers outside this package never need to import amqp091-go just to
// build topology arguments.
type Args map[string]any

// Channel is the slice of *amqp.Channel the topology builder uses. Declaring
// it locally (rather than depending on amqp091-go's type directly) lets
// tests exercise the builder against an in-memory fake.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args Args) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args Args) error
	QueueBind(name, key, exchange string, noWait bool, args Args) error
}

// Builder declares the full topology for one (entity, kind, targetService)
// triple per spec.md §4.D, plus the fixed event-store and task topology.
type Builder struct {
	ch Channel
}

func NewBuilder(ch Channel) *Builder {
	return &Builder{ch: ch}
}

// DeclareExchanges declares the four top-level exchanges. Idempotent: the
// broker treats repeated ExchangeDeclare calls with identical properties as
// a no-op, satisfying spec.md §8's "idempotent topology" law.
func (b *Builder) DeclareExchanges() error {
	if err := b.ch.ExchangeDeclare(naming.EventExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("topology: declare %s: %w", naming.EventExchange, err)
	}
	if err := b.ch.ExchangeDeclare(naming.DeadEventExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("topology: declare %s: %w", naming.DeadEventExchange, err)
	}
	if err := b.ch.ExchangeDeclare(naming.TaskExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("topology: declare %s: %w", naming.TaskExchange, err)
	}
	if err := b.ch.ExchangeDeclare(naming.DeadTaskExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("topology: declare %s: %w", naming.DeadTaskExchange, err)
	}
	return nil
}

// DeclareEvent declares the full event topology for (kind, entity,
// service): main queue + dead queue + attempt ladder, per spec.md §4.D.
func (b *Builder) DeclareEvent(kind, entity, service string) error {
	deadRK := naming.DeadEventRoutingKey(kind, entity, service)

	mainArgs := Args{
		"x-dead-letter-exchange":    naming.DeadEventExchange,
		"x-dead-letter-routing-key": deadRK,
		"x-message-ttl":             int32(MainQueueTTLMS),
		"x-max-length":              int32(MaxQueueLength),
		"x-max-length-bytes":        int32(MaxQueueLengthBytes),
		"x-overflow":                "reject-publish",
	}
	mainQueue := naming.EventQueueName(kind, entity, service)
	if err := b.ch.QueueDeclare(mainQueue, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("topology: declare main queue %s: %w", mainQueue, err)
	}

	mainRK := naming.EventRoutingKey(kind, entity)
	if err := b.ch.QueueBind(mainQueue, mainRK, naming.EventExchange, false, nil); err != nil {
		return fmt.Errorf("topology: bind main queue %s: %w", mainQueue, err)
	}

	deadQueue := naming.DeadEventQueueName(kind, entity, service)
	if err := b.ch.QueueDeclare(deadQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("topology: declare dead queue %s: %w", deadQueue, err)
	}
	if err := b.ch.QueueBind(deadQueue, deadRK, naming.DeadEventExchange, false, nil); err != nil {
		return fmt.Errorf("topology: bind dead queue %s: %w", deadQueue, err)
	}

	for n := 0; n < naming.MaxRetries; n++ {
		attemptQueue := naming.AttemptQueueName(n, kind, entity, service)
		attemptArgs := Args{
			"x-message-ttl":             int32(naming.AttemptDelayMS(n)),
			"x-dead-letter-exchange":    naming.EventExchange,
			"x-dead-letter-routing-key": mainRK,
		}
		if err := b.ch.QueueDeclare(attemptQueue, true, false, false, false, attemptArgs); err != nil {
			return fmt.Errorf("topology: declare attempt queue %s: %w", attemptQueue, err)
		}
		attemptRK := naming.AttemptRoutingKey(n, kind, entity, service)
		if err := b.ch.QueueBind(attemptQueue, attemptRK, naming.EventExchange, false, nil); err != nil {
			return fmt.Errorf("topology: bind attempt queue %s: %w", attemptQueue, err)
		}
	}

	return nil
}

// DeclareTask declares the direct-exchange analogue of DeclareEvent for a
// task (action, entity) pair, per spec.md §4.D "Task topology is analogous
// on direct exchanges, without the # wildcard."
func (b *Builder) DeclareTask(action, entity string) error {
	deadRK := naming.DeadTaskRoutingKey(action, entity)

	mainArgs := Args{
		"x-dead-letter-exchange":    naming.DeadTaskExchange,
		"x-dead-letter-routing-key": deadRK,
		"x-message-ttl":             int32(MainQueueTTLMS),
		"x-max-length":              int32(MaxQueueLength),
		"x-max-length-bytes":        int32(MaxQueueLengthBytes),
		"x-overflow":                "reject-publish",
	}
	mainQueue := naming.TaskQueueName(action, entity)
	if err := b.ch.QueueDeclare(mainQueue, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("topology: declare task queue %s: %w", mainQueue, err)
	}

	mainRK := naming.TaskRoutingKey(action, entity)
	if err := b.ch.QueueBind(mainQueue, mainRK, naming.TaskExchange, false, nil); err != nil {
		return fmt.Errorf("topology: bind task queue %s: %w", mainQueue, err)
	}

	deadQueue := naming.DeadTaskQueueName(action, entity)
	if err := b.ch.QueueDeclare(deadQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("topology: declare dead task queue %s: %w", deadQueue, err)
	}
	if err := b.ch.QueueBind(deadQueue, deadRK, naming.DeadTaskExchange, false, nil); err != nil {
		return fmt.Errorf("topology: bind dead task queue %s: %w", deadQueue, err)
	}

	for n := 0; n < naming.MaxRetries; n++ {
		attemptQueue := naming.AttemptTaskQueueName(n, action, entity)
		attemptArgs := Args{
			"x-message-ttl":             int32(naming.AttemptDelayMS(n)),
			"x-dead-letter-exchange":    naming.TaskExchange,
			"x-dead-letter-routing-key": mainRK,
		}
		if err := b.ch.QueueDeclare(attemptQueue, true, false, false, false, attemptArgs); err != nil {
			return fmt.Errorf("topology: declare attempt task queue %s: %w", attemptQueue, err)
		}
		attemptRK := naming.AttemptTaskRoutingKey(n, action, entity)
		if err := b.ch.QueueBind(attemptQueue, attemptRK, naming.TaskExchange, false, nil); err != nil {
			return fmt.Errorf("topology: bind attempt task queue %s: %w", attemptQueue, err)
		}
	}

	return nil
}

// DeclareEventStore declares the catch-all sink queue bound with a
// wildcard routing key, per spec.md §4.G.
func (b *Builder) DeclareEventStore() error {
	if err := b.ch.QueueDeclare(naming.EventStoreQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("topology: declare %s: %w", naming.EventStoreQueueName, err)
	}
	if err := b.ch.QueueBind(naming.EventStoreQueueName, "#", naming.EventExchange, false, nil); err != nil {
		return fmt.Errorf("topology: bind %s: %w", naming.EventStoreQueueName, err)
	}
	return nil
}
