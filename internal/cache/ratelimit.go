package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter counts settings writes per user in fixed one-hour windows.
type RateLimiter struct {
	redis *redis.Client
	limit int64
}

// WriteQuota is the outcome of one Allow call.
type WriteQuota struct {
	Allowed   bool
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

func NewRateLimiter(rdb *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: limit}
}

func (r *RateLimiter) windowKey(userID int64, windowStart time.Time) string {
	return fmt.Sprintf("pulse:ratelimit:%d:%s", userID, windowStart.Format("2006010215"))
}

// Allow records one settings write for userID and reports whether it fits
// the current window. Rejected writes still count.
func (r *RateLimiter) Allow(ctx context.Context, userID int64, now time.Time) (WriteQuota, error) {
	windowStart := now.UTC().Truncate(time.Hour)
	resetAt := windowStart.Add(time.Hour)
	ttl := max(int64(resetAt.Sub(now.UTC()).Seconds()), 1)

	used, err := incrWithTTLScript.Run(ctx, r.redis, []string{r.windowKey(userID, windowStart)}, ttl).Int64()
	if err != nil {
		return WriteQuota{}, fmt.Errorf("rate limit script: %w", err)
	}
	return WriteQuota{
		Allowed:   used <= r.limit,
		Used:      used,
		Remaining: max(r.limit-used, 0),
		ResetAt:   resetAt,
	}, nil
}

type UpdateDeduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewUpdateDeduplicator(rdb *redis.Client, ttl time.Duration) *UpdateDeduplicator {
	return &UpdateDeduplicator{redis: rdb, ttl: ttl}
}

// MarkFirst reports whether updateID is seen for the first time within the TTL.
func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("pulse:update:%d", updateID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
