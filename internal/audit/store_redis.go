package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore appends events to a redis stream consumed by the marketplace
// front end's activity feed. Subject lookups scan the recent window only;
// the stream is a feed, not the system of record.
type RedisStore struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStore(client *redis.Client, stream string) *RedisStore {
	return &RedisStore{client: client, stream: stream, maxLen: 100_000}
}

func (s *RedisStore) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"action":  event.Action,
			"subject": event.Subject,
			"event":   payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd audit event: %w", err)
	}
	return nil
}

func (s *RedisStore) ListBySubject(ctx context.Context, subject string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(s.maxLen)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange audit stream: %w", err)
	}
	var out []Event
	for _, msg := range msgs {
		if msg.Values["subject"] != subject {
			continue
		}
		raw, _ := msg.Values["event"].(string)
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
