// Package throttle spaces out message submissions per send configuration.
// State lives in Redis so every runner sharing a send configuration shares
// one budget.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-sender/internal/metrics"
)

// reserveLuaScript hands out the next free send slot. KEYS[1] holds the
// earliest time (unix ms) the following message may go out.
const reserveLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])

local nextSlot = tonumber(redis.call("GET", key) or "0")
local slot = now
if nextSlot > now then
    slot = nextSlot
end

redis.call("SET", key, slot + interval, "PX", (slot - now) + interval * 2)
return slot - now
`

// Limiter reserves send slots atomically in Redis.
type Limiter struct {
	redis   redis.Cmdable
	script  *redis.Script
	prefix  string
	now     func() time.Time
	sleeper func(ctx context.Context, d time.Duration) error
}

// New creates a limiter. Keys are namespaced by prefix.
func New(client redis.Cmdable, prefix string) *Limiter {
	if prefix == "" {
		prefix = "throttle"
	}
	return &Limiter{
		redis:   client,
		script:  redis.NewScript(reserveLuaScript),
		prefix:  prefix,
		now:     time.Now,
		sleeper: sleep,
	}
}

// Interval converts a messages-per-hour budget into the gap between two
// messages. Zero or negative budgets disable throttling.
func Interval(perHour int) time.Duration {
	if perHour <= 0 {
		return 0
	}
	return time.Hour / time.Duration(perHour)
}

// Reserve claims the next slot for sendConfigurationID and returns how long
// the caller has to wait before using it.
func (l *Limiter) Reserve(ctx context.Context, sendConfigurationID int64, perHour int) (time.Duration, error) {
	interval := Interval(perHour)
	if interval == 0 {
		return 0, nil
	}

	key := fmt.Sprintf("%s:sc:%d", l.prefix, sendConfigurationID)
	waitMs, err := l.script.Run(ctx, l.redis, []string{key},
		l.now().UnixMilli(),
		interval.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("throttle reserve failed: %w", err)
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}

// Wait reserves a slot and blocks until it is due or ctx is done.
func (l *Limiter) Wait(ctx context.Context, sendConfigurationID int64, perHour int) error {
	wait, err := l.Reserve(ctx, sendConfigurationID, perHour)
	if err != nil {
		return err
	}
	if wait <= 0 {
		return nil
	}
	metrics.ThrottleWaitSeconds.Add(wait.Seconds())
	return l.sleeper(ctx, wait)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
