package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ProbeLimiter gates SMTP probes across every running verification job.
// Per-job pacing is a fixed delay in the runner; this limiter caps the
// combined rate when several jobs overlap.
type ProbeLimiter interface {
	Wait(ctx context.Context) error
}

// LocalProbeLimiter is a token bucket shared by jobs in this process.
type LocalProbeLimiter struct {
	limiter *rate.Limiter
}

// NewLocalProbeLimiter allows perMinute probes per minute with no burst.
func NewLocalProbeLimiter(perMinute int) *LocalProbeLimiter {
	return &LocalProbeLimiter{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *LocalProbeLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Fixed-window counter: increments only while under the limit.
const windowLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`

// RedisProbeLimiter shares a per-minute probe budget across replicas.
type RedisProbeLimiter struct {
	client    *redis.Client
	script    *redis.Script
	key       string
	perMinute int
	poll      time.Duration
	now       func() time.Time
}

// NewRedisProbeLimiter creates a limiter storing its window under key.
func NewRedisProbeLimiter(client *redis.Client, key string, perMinute int) *RedisProbeLimiter {
	return &RedisProbeLimiter{
		client:    client,
		script:    redis.NewScript(windowLimitLuaScript),
		key:       key,
		perMinute: perMinute,
		poll:      250 * time.Millisecond,
		now:       time.Now,
	}
}

// Allow takes one slot from the current window if any remain.
func (l *RedisProbeLimiter) Allow(ctx context.Context) (bool, error) {
	window := l.now().UTC().Format("200601021504")
	key := fmt.Sprintf("ratelimit:%s:%s", l.key, window)
	res, err := l.script.Run(ctx, l.client, []string{key}, l.perMinute, 70).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("probe limiter: %w", err)
	}
	return len(res) > 0 && res[0] == 1, nil
}

// Wait blocks until a slot is available or ctx ends. Redis errors fail open
// so a Redis outage cannot stall verification.
func (l *RedisProbeLimiter) Wait(ctx context.Context) error {
	for {
		ok, err := l.Allow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
