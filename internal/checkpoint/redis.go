package checkpoint

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/researchflow/config"
)

// RedisStore keeps checkpoints in Redis so runs survive process restarts.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr(), err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWith wraps an existing client, used by integration tests.
func NewRedisStoreWith(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func kvKey(ns, thread, key string) string { return fmt.Sprintf("cp:%s:%s:%s", thread, ns, key) }
func logKey(ns, thread string) string     { return fmt.Sprintf("cplog:%s:%s", thread, ns) }
func curKey(ns, thread string) string     { return fmt.Sprintf("cpcur:%s:%s", thread, ns) }

func (s *RedisStore) Put(ctx context.Context, ns, thread, key string, value []byte) error {
	if err := s.client.Set(ctx, kvKey(ns, thread, key), value, 0).Err(); err != nil {
		return fmt.Errorf("checkpoint put %s/%s/%s: %w", ns, thread, key, err)
	}
	return s.client.SAdd(ctx, "cpkeys:"+thread, kvKey(ns, thread, key)).Err()
}

func (s *RedisStore) Get(ctx context.Context, ns, thread, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, kvKey(ns, thread, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint get %s/%s/%s: %w", ns, thread, key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Append(ctx context.Context, ns, thread string, value []byte) (int64, error) {
	n, err := s.client.RPush(ctx, logKey(ns, thread), value).Result()
	if err != nil {
		return 0, fmt.Errorf("checkpoint append %s/%s: %w", ns, thread, err)
	}
	return n, nil
}

func (s *RedisStore) NextCursor(ctx context.Context, ns, thread string) (int64, error) {
	n, err := s.client.Incr(ctx, curKey(ns, thread)).Result()
	if err != nil {
		return 0, fmt.Errorf("checkpoint cursor %s/%s: %w", ns, thread, err)
	}
	return n, nil
}

func (s *RedisStore) ReadLog(ctx context.Context, ns, thread string, from, to int64) ([][]byte, error) {
	stop := to - 1
	if to < 0 {
		stop = -1
	}
	vals, err := s.client.LRange(ctx, logKey(ns, thread), from, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint read %s/%s: %w", ns, thread, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, thread string) error {
	keys, err := s.client.SMembers(ctx, "cpkeys:"+thread).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("checkpoint delete %s: %w", thread, err)
	}
	for _, ns := range []string{"messages", "graph", "interrupts"} {
		keys = append(keys, logKey(ns, thread), curKey(ns, thread))
	}
	keys = append(keys, "cpkeys:"+thread)
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
