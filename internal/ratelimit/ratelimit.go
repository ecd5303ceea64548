// Package ratelimit implements a fixed-window request limiter on Redis.
// Counters live entirely in Redis so the limit holds across server
// replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/girasoltours/newsletter/internal/pkg/logger"
)

// incrScript bumps the window counter and sets its expiry on first use,
// atomically. Returns the count after the increment.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter allows up to max requests per key per window.
type Limiter struct {
	client *redis.Client
	prefix string
	max    int
	window time.Duration
}

// New creates a limiter. A nil client disables limiting, which keeps
// local development working without Redis.
func New(client *redis.Client, prefix string, max int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		prefix: prefix,
		max:    max,
		window: window,
	}
}

// Allow reports whether the caller identified by key may proceed. Redis
// being down fails open: dropping real signups is worse than letting a
// burst through.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil {
		return true, nil
	}

	window := time.Now().UTC().Unix() / int64(l.window.Seconds())
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	count, err := incrScript.Run(ctx, l.client, []string{redisKey}, int(l.window.Seconds())).Int64()
	if err != nil {
		logger.Warn("rate limit check failed, allowing request", "key", key, "err", err)
		return true, nil
	}
	return count <= int64(l.max), nil
}
