// Package ratelimit enforces per-key request limits, in Redis when available and in process otherwise.
package ratelimit

import (
	"context"
	"time"

	"judgebox/internal/common/cache"
	pkgerrors "judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key is allowed.
// A rejected request returns a TooManyRequests coded error.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Policy is the number of requests allowed per key within one window.
type Policy struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// RedisLimiter enforces fixed windows shared by every judge instance.
type RedisLimiter struct {
	cache        cache.WindowOps
	policy       Policy
	redisTimeout time.Duration
	fallback     Limiter
}

// NewRedisLimiter creates a fixed-window limiter. When Redis fails, fallback decides instead;
// a nil fallback lets the request through.
func NewRedisLimiter(cacheClient cache.WindowOps, policy Policy, redisTimeout time.Duration, fallback Limiter) *RedisLimiter {
	if redisTimeout <= 0 {
		redisTimeout = 100 * time.Millisecond
	}
	return &RedisLimiter{cache: cacheClient, policy: policy, redisTimeout: redisTimeout, fallback: fallback}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	if l.policy.Max <= 0 || l.policy.Window <= 0 {
		return nil
	}
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	count, err := l.cache.IncrWindow(ctxCache, key, l.policy.Window)
	if err != nil {
		logger.Warn(ctx, "rate limit check failed, using fallback", zap.String("key", key), zap.Error(err))
		if l.fallback == nil {
			return nil
		}
		return l.fallback.Allow(ctx, key)
	}
	if count > int64(l.policy.Max) {
		return tooMany(key)
	}
	return nil
}

// LocalLimiter is a per-key token bucket kept in process memory.
// It refills Max tokens per Window with a burst of Max.
type LocalLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *xsync.MapOf[string, *rate.Limiter]
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(policy Policy) *LocalLimiter {
	l := &LocalLimiter{limiters: xsync.NewMapOf[string, *rate.Limiter]()}
	if policy.Max > 0 && policy.Window > 0 {
		l.limit = rate.Limit(float64(policy.Max) / policy.Window.Seconds())
		l.burst = policy.Max
	}
	return l
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) error {
	if l.burst <= 0 {
		return nil
	}
	lim, _ := l.limiters.LoadOrCompute(key, func() *rate.Limiter {
		return rate.NewLimiter(l.limit, l.burst)
	})
	if !lim.Allow() {
		return tooMany(key)
	}
	return nil
}

// Sweep drops the buckets that are full again; they behave the same as a new bucket.
func (l *LocalLimiter) Sweep() {
	l.limiters.Range(func(key string, lim *rate.Limiter) bool {
		if lim.Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

// Run sweeps idle buckets every interval until ctx is done.
func (l *LocalLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Size returns the number of tracked keys.
func (l *LocalLimiter) Size() int {
	return l.limiters.Size()
}

func tooMany(key string) error {
	return pkgerrors.New(pkgerrors.TooManyRequests).WithDetail("key", key)
}
