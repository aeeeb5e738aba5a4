package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orderflow/orderflow/pkg/logger"
)

const retryLockPrefix = "orderflow:retry:lock:"

// releaseLockScript deletes the lock only when the stored token still matches,
// so an expired lock reacquired by another process is never released here.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRetryGuard is a RetryGuard backed by a Redis lease, usable across
// processes. The lease TTL bounds how long a crashed retry can block an order.
type RedisRetryGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    logger.Logger
}

// NewRedisRetryGuard creates a Redis-backed retry guard.
func NewRedisRetryGuard(client redis.UniversalClient, ttl time.Duration, log logger.Logger) (*RedisRetryGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = logger.Global()
	}
	return &RedisRetryGuard{client: client, ttl: ttl, log: log}, nil
}

// Acquire takes the per-order lease with SET NX.
func (g *RedisRetryGuard) Acquire(ctx context.Context, orderID string) (func(), error) {
	key := retryLockPrefix + orderID
	token := uuid.NewString()

	acquired, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire retry lock for order %s: %w", orderID, err)
	}
	if !acquired {
		return nil, ErrRetryLocked
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseLockScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
			g.log.WarnContext(releaseCtx, "failed to release retry lock",
				"order_id", orderID,
				"error", err,
			)
		}
	}
	return release, nil
}
