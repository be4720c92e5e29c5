package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/smi-gateway/smi/internal/protocol"
)

// RedisStore is a Store backed by Redis, addressing an id via its
// "{id}:status"/"{id}:result" keys.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisStore dials a Redis server at addr. log may be nil, in which
// case slog.Default() is used.
func NewRedisStore(addr string, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		log:    log,
	}
}

// checkConnection pings and reconnects on failure before the next
// operation.
func (s *RedisStore) checkConnection(ctx context.Context) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.log.Warn("jobstore: redis ping failed, reconnecting", "error", err)
		opts := s.client.Options()
		s.client = redis.NewClient(opts)
	}
}

func (s *RedisStore) SetStatus(ctx context.Context, id string, rec protocol.StatusRecord) error {
	s.checkConnection(ctx)
	data, err := encodeStatus(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, statusKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("jobstore: set status %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) GetStatus(ctx context.Context, id string) (protocol.StatusRecord, bool, error) {
	s.checkConnection(ctx)
	data, err := s.client.Get(ctx, statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return protocol.StatusRecord{}, false, nil
	}
	if err != nil {
		return protocol.StatusRecord{}, false, fmt.Errorf("jobstore: get status %s: %w", id, err)
	}
	rec, err := decodeStatus(data)
	if err != nil {
		return protocol.StatusRecord{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) SetResult(ctx context.Context, id string, payload []byte) error {
	s.checkConnection(ctx)
	if err := s.client.Set(ctx, resultKey(id), encodeResult(payload), 0).Err(); err != nil {
		return fmt.Errorf("jobstore: set result %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) GetResult(ctx context.Context, id string) ([]byte, bool, error) {
	s.checkConnection(ctx)
	data, err := s.client.Get(ctx, resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("jobstore: get result %s: %w", id, err)
	}
	payload, err := decodeResult(data)
	if err != nil {
		return nil, false, err
	}
	if err := s.Delete(ctx, id); err != nil {
		s.log.Error("jobstore: failed to delete after read", "job_id", id, "error", err)
	}
	return payload, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	s.checkConnection(ctx)
	if err := s.client.Del(ctx, statusKey(id), resultKey(id)).Err(); err != nil {
		return fmt.Errorf("jobstore: delete %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
