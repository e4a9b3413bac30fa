package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
	max    int64
}

// NewRedis constructs a redis-backed prediction log. Entries are kept in a
// list per user plus one global list.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "cattlecare:history:"
	}
	return &redisStore{
		client: client,
		prefix: prefix,
		max:    int64(cfg.MaxEntries),
	}, nil
}

func (s *redisStore) userKey(email string) string {
	return s.prefix + "user:" + email
}

func (s *redisStore) recentKey() string {
	return s.prefix + "recent"
}

func (s *redisStore) Append(ctx context.Context, entry Entry) error {
	entry = prepare(entry)
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range []string{s.userKey(entry.UserEmail), s.recentKey()} {
			pipe.RPush(ctx, key, data)
			if s.max > 0 {
				pipe.LTrim(ctx, key, -s.max, -1)
			}
		}
		return nil
	})
	return err
}

func (s *redisStore) ListByUser(ctx context.Context, email string, limit int) ([]Entry, error) {
	return s.list(ctx, s.userKey(email), limit)
}

func (s *redisStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.list(ctx, s.recentKey(), limit)
}

func (s *redisStore) list(ctx context.Context, key string, limit int) ([]Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
