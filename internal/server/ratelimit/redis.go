package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/timex"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow keeps one sorted-set member per admitted request, scored by
// its time in milliseconds.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count < limit then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, limit - count - 1, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// Redis shares the window table across gateway instances.
type Redis struct {
	client redis.Scripter
	prefix string
	window time.Duration
	max    int
	clock  timex.Clock
}

func NewRedis(client redis.Scripter, window time.Duration, max int, clock timex.Clock) *Redis {
	if clock == nil {
		clock = timex.Real()
	}
	return &Redis{
		client: client,
		prefix: "armadillo:rl:",
		window: window,
		max:    max,
		clock:  clock,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.clock.Now().UnixMilli()

	res, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + key},
		now, r.window.Milliseconds(), r.max, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Limit:      r.max,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
