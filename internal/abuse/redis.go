package abuse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript starts the expiry on the first increment only, so the window is anchored at the first hit.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisCounterStore shares counters between instances through Redis.
type RedisCounterStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounterStore constructs a Redis-backed counter store. Keys are namespaced by prefix.
func NewRedisCounterStore(client redis.UniversalClient, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "giftline:"
	}
	return &RedisCounterStore{client: client, prefix: prefix}
}

func (r *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if r.client == nil {
		return 0, errors.New("abuse: redis client is nil")
	}
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		windowMS = 1
	}
	count, err := incrScript.Run(ctx, r.client, []string{r.prefix + key}, windowMS).Int64()
	if err != nil {
		return 0, fmt.Errorf("abuse: redis incr: %w", err)
	}
	return count, nil
}

func (r *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	if r.client == nil {
		return 0, errors.New("abuse: redis client is nil")
	}
	count, err := r.client.Get(ctx, r.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("abuse: redis get: %w", err)
	}
	return count, nil
}

func (r *RedisCounterStore) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil {
		return errors.New("abuse: redis client is nil")
	}
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, r.prefix+key)
	}
	if err := r.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("abuse: redis del: %w", err)
	}
	return nil
}
