package cache

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/redis/go-redis/v9"

	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/tracing"
)

const (
	dedupKeyPrefix  = "supportstack:inbound:"
	DefaultDedupTTL = 24 * time.Hour
)

type redisDedupStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDedupStore(client *redis.Client, ttl time.Duration) interfaces.DedupStore {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &redisDedupStore{client: client, ttl: ttl}
}

func (s *redisDedupStore) MarkSeen(ctx context.Context, key string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "redisDedupStore.MarkSeen")
	defer span.Finish()
	span.SetTag("key", key)

	firstSeen, err := s.client.SetNX(ctx, dedupKey(key), time.Now().UTC().Unix(), s.ttl).Result()
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	span.SetTag("first_seen", firstSeen)
	return firstSeen, nil
}

func (s *redisDedupStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, dedupKey(key)).Err()
}

func dedupKey(key string) string {
	return dedupKeyPrefix + key
}

// noopDedupStore treats every key as new; used when Redis is not configured.
type noopDedupStore struct{}

func NewNoopDedupStore() interfaces.DedupStore {
	return noopDedupStore{}
}

func (noopDedupStore) MarkSeen(context.Context, string) (bool, error) {
	return true, nil
}

func (noopDedupStore) Forget(context.Context, string) error {
	return nil
}
