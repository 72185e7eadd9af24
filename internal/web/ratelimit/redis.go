package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces limiter keys.
const DefaultRedisPrefix = "relay:ratelimit:"

// slidingWindow trims entries older than the window, then records the
// attempt if the window has room. Times are Unix milliseconds. It returns
// {allowed, count, oldest}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// Redis is a sliding window limiter shared by every process using the same
// Redis database.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedis creates a limiter on client. Close closes the client.
func NewRedis(client *redis.Client, config Config, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if config.Limit <= 0 {
		return nil, errors.New("ratelimit: limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("ratelimit: window must be greater than 0")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &Redis{
		client: client,
		limit:  config.Limit,
		window: config.Window,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Allow records an attempt for key in the current window.
func (r *Redis) Allow(ctx context.Context, key string) (*Decision, error) {
	now := r.now()
	result, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(),
		r.window.Milliseconds(),
		r.limit,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	if len(result) != 3 {
		return nil, errors.New("unexpected redis script result")
	}

	allowed, _ := result[0].(int64)
	count, _ := result[1].(int64)
	oldest, _ := result[2].(int64)

	remaining := r.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:     r.limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(oldest).Add(r.window),
		Allowed:   allowed == 1,
	}, nil
}

// Reset forgets every attempt recorded for key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Close closes the Redis client
func (r *Redis) Close() error {
	return r.client.Close()
}
