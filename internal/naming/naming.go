// Package naming implements the pure string functions that map
// (event kind, entity, target service, attempt) onto the exchange, queue
// and routing key names used across the substrate. Nothing here touches
// the broker — every function is total and side-effect free.
package naming

import (
	"fmt"
	"strings"
)

// Exchange names. These are fixed by the wire contract and never derived.
const (
	EventExchange     = "event.exchange"
	DeadEventExchange = "dead.event.exchange"
	TaskExchange      = "task.exchange"
	DeadTaskExchange  = "dead.task.exchange"
)

// MaxRetries bounds the attempt ladder: attempt-0 .. attempt-(MaxRetries-1).
const MaxRetries = 3

// InitialRetryDelayMS is the attempt-0 queue TTL; attempt-n TTL doubles it n times.
const InitialRetryDelayMS = 3000

// EventQueueName is the main queue a consuming service reads an entity's
// events from: event.{kind}.{entity}.to.{service}.
func EventQueueName(kind, entity, service string) string {
	return fmt.Sprintf("event.%s.%s.to.%s", kind, entity, service)
}

// EventRoutingKey is the publisher-side routing key: routing.event.{kind}.{entity}.#.
// The trailing "#" lets every target service's ".to.{service}" binding match
// a single publication.
func EventRoutingKey(kind, entity string) string {
	return fmt.Sprintf("routing.event.%s.%s.#", kind, entity)
}

// DeadEventQueueName prefixes "dead." onto the main event queue name.
func DeadEventQueueName(kind, entity, service string) string {
	return "dead." + EventQueueName(kind, entity, service)
}

// DeadEventRoutingKey is the routing key a dead-lettered event carries.
func DeadEventRoutingKey(kind, entity, service string) string {
	return fmt.Sprintf("dead.routing.%s.%s.to.%s", kind, entity, service)
}

// AttemptQueueName names the n-th delay queue for a given kind/entity/service.
func AttemptQueueName(n int, kind, entity, service string) string {
	return fmt.Sprintf("attempt.%d.%s.%s.to.%s", n, kind, entity, service)
}

// AttemptRoutingKey is the routing key bound to the n-th attempt queue.
func AttemptRoutingKey(n int, kind, entity, service string) string {
	return fmt.Sprintf("routing.attempt.%d.%s.%s.to.%s", n, kind, entity, service)
}

// AttemptDelayMS returns the TTL, in milliseconds, of the n-th attempt queue:
// INITIAL_RETRY_DELAY * 2^n.
func AttemptDelayMS(n int) int64 {
	return InitialRetryDelayMS * (int64(1) << uint(n))
}

// TaskQueueName names the direct-exchange queue for a task action/entity pair.
func TaskQueueName(action, entity string) string {
	return fmt.Sprintf("task.%s.%s", action, entity)
}

// TaskRoutingKey is the direct-exchange routing key for a task action/entity pair.
func TaskRoutingKey(action, entity string) string {
	return fmt.Sprintf("routing.task.%s.%s", action, entity)
}

// DeadTaskQueueName prefixes "dead." onto the main task queue name.
func DeadTaskQueueName(action, entity string) string {
	return "dead." + TaskQueueName(action, entity)
}

// DeadTaskRoutingKey is the routing key a dead-lettered task carries.
func DeadTaskRoutingKey(action, entity string) string {
	return fmt.Sprintf("dead.routing.%s.%s", action, entity)
}

// AttemptTaskQueueName names the n-th delay queue for a task action/entity pair.
func AttemptTaskQueueName(n int, action, entity string) string {
	return fmt.Sprintf("attempt.%d.%s.%s", n, action, entity)
}

// AttemptTaskRoutingKey is the routing key bound to the n-th task attempt queue.
func AttemptTaskRoutingKey(n int, action, entity string) string {
	return fmt.Sprintf("routing.attempt.%d.%s.%s", n, action, entity)
}

// EventStoreQueueName is the fixed name of the event-store sink's queue.
const EventStoreQueueName = "event.store"

// DeadEventStoreQueueName is the dead-letter queue for malformed event-store messages.
const DeadEventStoreQueueName = "dead." + EventStoreQueueName

// EventStoreRoutingKey is the original wildcard form of the event-store
// binding, kept for parity. topology.DeclareEventStore does not use it: it
// binds the event-store queue with "#", which matches every routing key.
const EventStoreRoutingKey = "#.event.#"

// RewriteToAttemptRoutingKey maps an inbound event or task routing key to its
// n-th attempt routing key: substitute the "routing.event."/"routing.task."
// prefix for "routing.attempt.{n}.", then replace the trailing "#" with
// "to.{service}". This is the function the retry engine uses to reinject a
// failed message without recomputing kind/entity from scratch.
func RewriteToAttemptRoutingKey(routingKey string, n int, service string) string {
	out := routingKey
	out = strings.Replace(out, "routing.event.", fmt.Sprintf("routing.attempt.%d.", n), 1)
	out = strings.Replace(out, "routing.task.", fmt.Sprintf("routing.attempt.%d.", n), 1)
	out = strings.Replace(out, "#", "to."+service, 1)
	return out
}
