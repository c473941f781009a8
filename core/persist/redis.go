package persist

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis stores each namespace as one hash under prefix+namespace.
type Redis struct {
	c      *redis.Client
	prefix string
}

// NewRedis wraps a client. An empty prefix defaults to "wgbot:".
func NewRedis(c *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "wgbot:"
	}
	return &Redis{c: c, prefix: prefix}
}

func (r *Redis) key(namespace string) string { return r.prefix + namespace }

func (r *Redis) Load(ctx context.Context, namespace string) (map[string][]byte, error) {
	vals, err := r.c.HGetAll(ctx, r.key(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", namespace, err)
	}
	out := make(map[string][]byte, len(vals))
	for k, v := range vals {
		out[k] = []byte(v)
	}
	return out, nil
}

func (r *Redis) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := r.c.HSet(ctx, r.key(namespace), key, value).Err(); err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.c.HDel(ctx, r.key(namespace), keys...).Err(); err != nil {
		return fmt.Errorf("delete from %s: %w", namespace, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, namespace string) error {
	if err := r.c.Del(ctx, r.key(namespace)).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", namespace, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.c.Close() }
