package dedupe

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "sqs:dedupe"
	}
	if ttl == 0 {
		// Marks only need to outlive the queue's own retention; SQS keeps
		// messages at most 14 days.
		ttl = 14 * 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) Seen(ctx context.Context, queueURL, messageID string) (bool, error) {
	_, err := s.client.Get(ctx, s.key(queueURL, messageID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Mark(ctx context.Context, queueURL, messageID string) error {
	return s.client.Set(ctx, s.key(queueURL, messageID), "1", s.ttl).Err()
}

func (s *RedisStore) Forget(ctx context.Context, queueURL, messageID string) error {
	return s.client.Del(ctx, s.key(queueURL, messageID)).Err()
}

func (s *RedisStore) key(queueURL, messageID string) string {
	return s.prefix + ":" + queueURL + ":" + messageID
}
