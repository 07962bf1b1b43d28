// Package ratelimit paces calls against rate-limited remote APIs.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter blocks until a call may proceed or ctx ends.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerSecond int
	BurstSize         int
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		BurstSize:         20,
	}
}

// =============================================================================
// Local token bucket
// =============================================================================

// NewLocal returns a process-local token bucket. Non-positive rates disable limiting.
func NewLocal(cfg Config) Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return Unlimited{}
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// =============================================================================
// SlidingWindowLimiter - Redis sliding window shared across workers
// =============================================================================

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter implements sliding window rate limiting using Redis so
// several worker processes share one remote quota.
type SlidingWindowLimiter struct {
	redis    *redis.Client
	key      string
	rate     int
	window   time.Duration
	fallback Limiter
}

// NewSlidingWindowLimiter creates a limiter for the named quota.
func NewSlidingWindowLimiter(redisClient *redis.Client, name string, cfg Config) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:    redisClient,
		key:      fmt.Sprintf("ratelimit:%s", name),
		rate:     cfg.RequestsPerSecond + cfg.BurstSize,
		window:   time.Second,
		fallback: NewLocal(cfg),
	}
}

// Allow checks if request is allowed and returns wait duration if not.
func (l *SlidingWindowLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := time.Now()
	windowStart := now.Add(-l.window)

	result, err := slidingWindowScript.Run(ctx, l.redis, []string{l.key},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		l.rate,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, 0, err
	}
	if result == 1 {
		return true, 0, nil
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond, nil
	}
	return false, 10 * time.Millisecond, nil
}

// Wait polls the shared window; Redis failures degrade to the local bucket.
func (l *SlidingWindowLimiter) Wait(ctx context.Context) error {
	if l.redis == nil || l.rate <= 0 {
		return l.fallback.Wait(ctx)
	}
	for {
		allowed, wait, err := l.Allow(ctx)
		if err != nil {
			return l.fallback.Wait(ctx)
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
