package stores

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/malwarebo/paygate/models"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "paygate:ratelimit:"

// hitScript resets the window when it has expired, otherwise increments it.
// Returns {count, window_start_ms, blocked_until_ms}.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local block = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local start = tonumber(redis.call('HGET', KEYS[1], 'window_start'))
local count
local blocked_until = 0
if (not start) or (now - start > window) then
  start = now
  count = 1
  redis.call('HSET', KEYS[1], 'window_start', start, 'count', 1, 'blocked_until', 0)
else
  count = redis.call('HINCRBY', KEYS[1], 'count', 1)
  blocked_until = tonumber(redis.call('HGET', KEYS[1], 'blocked_until')) or 0
end

if count > limit then
  blocked_until = now + block
  redis.call('HSET', KEYS[1], 'blocked_until', blocked_until)
end

redis.call('PEXPIRE', KEYS[1], ttl)
return {count, start, blocked_until}
`)

type RedisRateLimitStore struct {
	client redis.UniversalClient
}

func CreateRedisRateLimitStore(client redis.UniversalClient) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

func redisRateLimitKey(key RateLimitKey) string {
	return fmt.Sprintf("%s%s:%s:%s", rateLimitKeyPrefix, key.IdentifierType, key.Identifier, key.Endpoint)
}

func (s *RedisRateLimitStore) Hit(ctx context.Context, key RateLimitKey, limit int, window, blockFor time.Duration, now time.Time) (*models.RateLimitWindow, error) {
	ttl := window + blockFor
	res, err := hitScript.Run(ctx, s.client, []string{redisRateLimitKey(key)},
		now.UnixMilli(), window.Milliseconds(), limit, blockFor.Milliseconds(), ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "rate limit hit for %s/%s", key.IdentifierType, key.Identifier)
	}
	if len(res) != 3 {
		return nil, pkgerrors.Errorf("unexpected rate limit script reply %v", res)
	}

	w := &models.RateLimitWindow{
		Identifier:     key.Identifier,
		IdentifierType: key.IdentifierType,
		Endpoint:       key.Endpoint,
		RequestCount:   int(res[0]),
		WindowStart:    time.UnixMilli(res[1]).UTC(),
		WindowDuration: int(window.Seconds()),
		LimitThreshold: limit,
		UpdatedAt:      now,
	}
	if res[2] > now.UnixMilli() {
		blockedUntil := time.UnixMilli(res[2]).UTC()
		w.IsBlocked = true
		w.BlockedUntil = &blockedUntil
	}
	return w, nil
}

func (s *RedisRateLimitStore) CountBlocked(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, rateLimitKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.HGet(ctx, iter.Val(), "blocked_until").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return 0, pkgerrors.Wrap(err, "count blocked windows")
		}
		until, err := strconv.ParseInt(val, 10, 64)
		if err == nil && until > now.UnixMilli() {
			count++
		}
	}
	if err := iter.Err(); err != nil {
		return 0, pkgerrors.Wrap(err, "scan rate limit keys")
	}
	return count, nil
}

// PurgeStale is a no-op: keys carry a TTL of window plus block duration.
func (s *RedisRateLimitStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
