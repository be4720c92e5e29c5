// Package broker implements the durable priority queue described in
// the external interfaces section: queue "smi-requests" partitioned
// by routing key (one per job type), x-max-priority semantics with
// three priority bands (1/5/10), and reject-with-requeue-after-backoff
// on delivery failure. No example repo imports an AMQP client and
// RabbitMQ is not available here, so the durable implementation rides
// on go-redis/v9 sorted sets instead (see DESIGN.md); an in-memory
// heap-backed implementation serves tests and single-process dev.
package broker

import (
	"context"

	"github.com/smi-gateway/smi/internal/protocol"
)

// Delivery is one message handed to a consumer. The consumer must call
// exactly one of Ack or Reject.
type Delivery struct {
	Message  protocol.BrokerMessage
	Priority int

	ack    func(ctx context.Context) error
	reject func(ctx context.Context) error
}

// Ack confirms successful processing; the message will not be
// redelivered.
func (d Delivery) Ack(ctx context.Context) error {
	return d.ack(ctx)
}

// Reject puts the message back on the queue after a bounded backoff,
// per the "reject-with-requeue after a bounded backoff" failure model.
func (d Delivery) Reject(ctx context.Context) error {
	return d.reject(ctx)
}

// Broker is the durable priority queue contract. One routing key
// exists per job type; Declare is idempotent and safe to call from
// every producer/consumer at startup.
type Broker interface {
	// Declare ensures the routing key's queue exists. Idempotent.
	Declare(ctx context.Context, routingKey string) error

	// Publish enqueues msg on routingKey at the given numeric priority
	// (1, 5, or 10 per the wire contract).
	Publish(ctx context.Context, routingKey string, msg protocol.BrokerMessage, priority int) error

	// Consume returns a channel of deliveries for routingKey. The
	// channel closes when ctx is cancelled or Close is called.
	Consume(ctx context.Context, routingKey string) (<-chan Delivery, error)

	Close() error
}
