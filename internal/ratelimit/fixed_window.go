package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// FixedWindowLimiter limits requests per key in a fixed time window shared
// through Redis by every API replica.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewFixedWindowLimiter builds a limiter on an existing Redis client.
func NewFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "marefa:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		client: client,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Allow counts one hit against key. Redis failures fail closed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retryAfter := time.Duration(windowMs-nowMs%windowMs) * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return Decision{RetryAfter: retryAfter}
	}
	if count > int64(l.limit) {
		return Decision{RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}
