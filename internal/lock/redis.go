// Package lock keeps more than one instance from reconciling at the same time
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultKey = "stream-api:reconcile"

// Only the holder may release, a lock that expired and was taken by
// another instance must stay
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Cmdable is the part of the redis client the lock needs
type Cmdable interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Redis is an advisory lock held with SET NX PX. The TTL must outlast the
// longest reconciliation cycle, otherwise two cycles can overlap.
type Redis struct {
	c   Cmdable
	key string
	ttl time.Duration
}

func NewRedis(c Cmdable, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Redis{c: c, key: key, ttl: ttl}
}

// Dial connects to the redis server at url, e.g. redis://localhost:6379/0
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url, %w", err)
	}

	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to reach redis, %w", err)
	}

	return c, nil
}

func (r *Redis) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := r.c.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to take lock %s, %w", r.key, err)
	}

	if !ok {
		return func() {}, false, nil
	}

	release := func() {
		// Release even if the cycle's context is gone
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(ctx, r.c, []string{r.key}, token).Err(); err != nil {
			zap.L().Warn("Failed to release reconciliation lock", zap.String("key", r.key), zap.Error(err))
		}
	}

	return release, true, nil
}
