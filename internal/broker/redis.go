package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/smi-gateway/smi/internal/protocol"
)

// RedisBroker implements Broker as one sorted set per routing key,
// standing in for the durable queue "smi-requests" bound by routing
// key with x-max-priority=10. Score encodes priority (descending) and
// the enqueue time in milliseconds (ascending) so ZPOPMIN/BZPOPMIN
// delivers the highest-priority, oldest-enqueued message first —
// reproducing the same FIFO-within-priority, overtake-across-priority
// ordering the wire contract specifies. Message bodies live in a
// parallel hash so Reject can restore an undelivered entry without
// re-encoding it.
type RedisBroker struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisBroker dials a Redis server at addr.
func NewRedisBroker(addr string, log *slog.Logger) *RedisBroker {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroker{client: redis.NewClient(&redis.Options{Addr: addr}), log: log}
}

func queueKey(routingKey string) string { return "smi-requests:{" + routingKey + "}:q" }
func dataKey(routingKey string) string  { return "smi-requests:{" + routingKey + "}:data" }

// score packs priority (1/5/10) and an enqueue time in Unix
// milliseconds into a single float64 so that higher priority always
// sorts before lower priority, and within a priority band earlier
// messages sort first (messages from the same millisecond are ordered
// by member id). The timestamp stays below 1e15, so the priority can be
// read back as 10 - int(score/1e15).
func score(priority int, seq int64) float64 {
	return float64(10-priority)*1e15 + float64(seq)
}

func (b *RedisBroker) Declare(ctx context.Context, routingKey string) error {
	// Redis collections are created lazily on first write; nothing to
	// declare up front, matching the idempotent-declare contract.
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, routingKey string, msg protocol.BrokerMessage, priority int) error {
	member := uuid.NewString()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal message: %w", err)
	}
	seq := time.Now().UnixMilli()

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, dataKey(routingKey), member, data)
	pipe.ZAdd(ctx, queueKey(routingKey), redis.Z{Score: score(priority, seq), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", routingKey, err)
	}
	return nil
}

func (b *RedisBroker) Consume(ctx context.Context, routingKey string) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			z, err := b.client.BZPopMin(ctx, time.Second, queueKey(routingKey)).Result()
			if err != nil {
				if ctx.Err() != nil || err == redis.Nil {
					continue
				}
				b.log.Warn("broker: consume error, retrying", "routing_key", routingKey, "error", err)
				time.Sleep(5 * time.Second)
				continue
			}
			member, ok := z.Member.(string)
			if !ok {
				continue
			}

			data, err := b.client.HGet(ctx, dataKey(routingKey), member).Bytes()
			if err != nil {
				b.log.Warn("broker: missing message data", "routing_key", routingKey, "member", member, "error", err)
				continue
			}
			var msg protocol.BrokerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				b.log.Error("broker: corrupt message body", "routing_key", routingKey, "member", member, "error", err)
				b.client.HDel(ctx, dataKey(routingKey), member)
				continue
			}

			priority := 10 - int(z.Score/1e15)
			d := Delivery{
				Message:  msg,
				Priority: priority,
				ack: func(ctx context.Context) error {
					return b.client.HDel(ctx, dataKey(routingKey), member).Err()
				},
				reject: func(ctx context.Context) error {
					go func() {
						time.Sleep(5 * time.Second)
						b.client.ZAdd(context.Background(), queueKey(routingKey), redis.Z{
							Score:  score(priority, time.Now().UnixMilli()),
							Member: member,
						})
					}()
					return nil
				},
			}

			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
